package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/google/shlex"

	"vcpbridge-go/bus"
	"vcpbridge-go/internal/simport"
	"vcpbridge-go/services/bridge"
	"vcpbridge-go/types"
)

const simKey = "$sim"

func simFrom(c *ishell.Context) *Sim { return c.Get(simKey).(*Sim) }

var commands = []*ishell.Cmd{
	{
		Name: "open",
		Help: "[BAUD] open the channel",
		Func: func(c *ishell.Context) {
			ctl := types.BridgeCtl{Op: bridge.OpOpen}
			if len(c.Args) > 0 {
				line, err := parseLine(c.Args)
				if err != nil {
					c.Err(err)
					return
				}
				ctl.Line = &line
			}
			simFrom(c).control(c, ctl)
		},
	},
	{
		Name: "close",
		Help: "close the channel",
		Func: func(c *ishell.Context) {
			simFrom(c).control(c, types.BridgeCtl{Op: bridge.OpClose})
		},
	},
	{
		Name: "line",
		Help: "BAUD [DATABITS [PARITY [STOPBITS]]] reconfigure the UART",
		Func: func(c *ishell.Context) {
			line, err := parseLine(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			simFrom(c).control(c, types.BridgeCtl{Op: bridge.OpSetLine, Line: &line})
		},
	},
	{
		Name: "coding",
		Help: "[HEX] get, or set from 7 hex bytes, the CDC line coding",
		Func: func(c *ishell.Context) {
			if len(c.Args) == 0 {
				simFrom(c).control(c, types.BridgeCtl{Op: bridge.OpGetLineCoding})
				return
			}
			simFrom(c).control(c, types.BridgeCtl{Op: bridge.OpSetLineCoding, LineCoding: c.Args[0]})
		},
	},
	{
		Name:    "send",
		Aliases: []string{"s"},
		Help:    "TEXT... write to the bridge from the host side",
		Func: func(c *ishell.Context) {
			host, _ := simFrom(c).ends()
			write(c, host, c.Args)
		},
	},
	{
		Name:    "inject",
		Aliases: []string{"i"},
		Help:    "TEXT... write to the bridge from the device side",
		Func: func(c *ishell.Context) {
			_, dev := simFrom(c).ends()
			write(c, dev, c.Args)
		},
	},
	{
		Name:    "recv",
		Aliases: []string{"r"},
		Help:    "[MS] print what reached the host and the device",
		Func: func(c *ishell.Context) {
			wait := 20 * time.Millisecond
			if len(c.Args) > 0 {
				ms, err := strconv.Atoi(c.Args[0])
				if err != nil {
					c.Err(fmt.Errorf("invalid MS: %v", err))
					return
				}
				wait = time.Duration(ms) * time.Millisecond
			}
			time.Sleep(wait)
			host, dev := simFrom(c).ends()
			c.Printf("host   <- %q\n", drainPort(host))
			c.Printf("device <- %q\n", drainPort(dev))
		},
	},
	{
		Name: "stats",
		Help: "print bridge counters",
		Func: func(c *ishell.Context) {
			simFrom(c).control(c, types.BridgeCtl{Op: bridge.OpStats})
		},
	},
	{
		Name: "state",
		Help: "print the retained bridge state",
		Func: func(c *ishell.Context) {
			s := simFrom(c)
			sub := s.conn.Subscribe(bus.T("bridge", "state"))
			defer s.conn.Unsubscribe(sub)
			select {
			case m := <-sub.Channel():
				printJSON(c, m.Payload)
			case <-time.After(100 * time.Millisecond):
				c.Err(fmt.Errorf("no state published"))
			}
		},
	},
}

func (s *Sim) control(c *ishell.Context, ctl types.BridgeCtl) {
	ctx, cancel := context.WithTimeout(s.ctx, time.Second)
	defer cancel()
	reply, err := s.conn.RequestWait(ctx, s.conn.NewMessage(bus.T("bridge", "ctl"), ctl, false))
	if err != nil {
		c.Err(fmt.Errorf("%s: %v", ctl.Op, err))
		return
	}
	printJSON(c, reply.Payload)
}

func printJSON(c *ishell.Context, v any) {
	out, err := json.Marshal(v)
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(string(out))
}

func write(c *ishell.Context, p *simport.Port, args []string) {
	if p == nil {
		c.Err(fmt.Errorf("not attached"))
		return
	}
	if _, err := p.Write([]byte(strings.Join(args, " "))); err != nil {
		c.Err(err)
	}
}

func drainPort(p *simport.Port) string {
	if p == nil {
		return ""
	}
	var out []byte
	buf := make([]byte, 64)
	for {
		n, _ := p.Read(buf)
		if n == 0 {
			return string(out)
		}
		out = append(out, buf[:n]...)
	}
}

// parseLine reads BAUD [DATABITS [PARITY [STOPBITS]]].
func parseLine(args []string) (types.LineConfig, error) {
	line := types.DefaultLineConfig
	if len(args) == 0 {
		return line, fmt.Errorf("BAUD required")
	}
	baud, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return line, fmt.Errorf("invalid BAUD: %v", err)
	}
	line.Baud = uint32(baud)
	if len(args) > 1 {
		db, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return line, fmt.Errorf("invalid DATABITS: %v", err)
		}
		line.DataBits = uint8(db)
	}
	if len(args) > 2 {
		if err := line.Parity.UnmarshalText([]byte(args[2])); err != nil {
			return line, err
		}
	}
	if len(args) > 3 {
		if err := line.StopBits.UnmarshalText([]byte(args[3])); err != nil {
			return line, err
		}
	}
	return line, line.Validate()
}

// parseScript splits each non-blank line shell-style. Lines starting with #
// are comments.
func parseScript(r io.Reader) ([][]string, error) {
	var steps [][]string
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		args, err := shlex.Split(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", n, err)
		}
		steps = append(steps, args)
	}
	return steps, sc.Err()
}
