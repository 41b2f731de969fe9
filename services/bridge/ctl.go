package bridge

import (
	"encoding/hex"

	"vcpbridge-go/bus"
	"vcpbridge-go/errcode"
	"vcpbridge-go/types"
	"vcpbridge-go/vcp"
	"vcpbridge-go/x/logx"
)

// Control operations accepted on "bridge/ctl".
const (
	OpOpen          = "open"
	OpClose         = "close"
	OpSetLine       = "set_line"
	OpSetLineCoding = "set_line_coding"
	OpGetLineCoding = "get_line_coding"
	OpStats         = "stats"
)

func (s *Service) onCtl(msg *bus.Message) {
	ctl, err := decodePayload[types.BridgeCtl](msg.Payload)
	if err != nil {
		s.reply(msg, types.BridgeReply{}, errcode.Wrap(errcode.InvalidPayload, "ctl", err))
		return
	}
	rep, err := s.control(ctl)
	s.reply(msg, rep, err)
}

func (s *Service) control(ctl types.BridgeCtl) (types.BridgeReply, error) {
	var rep types.BridgeReply
	if s.link == nil {
		return rep, &errcode.E{C: errcode.NotAttached, Op: ctl.Op}
	}
	br := s.link.br

	switch ctl.Op {
	case OpOpen:
		line := s.cfg.Line
		if ctl.Line != nil {
			line = *ctl.Line
		}
		if err := br.Dispatch(vcp.OpenWith(line)); err != nil {
			return rep, err
		}
		s.lineApplied(br, "opened")

	case OpClose:
		if err := br.Dispatch(vcp.CloseEvent()); err != nil {
			return rep, err
		}
		s.publishState("idle", "closed", nil)

	case OpSetLine:
		if ctl.Line == nil {
			return rep, &errcode.E{C: errcode.InvalidParams, Op: ctl.Op, Msg: "line required"}
		}
		if err := br.Dispatch(vcp.LineChanged(*ctl.Line)); err != nil {
			return rep, err
		}
		s.lineApplied(br, "reconfigured")

	case OpSetLineCoding:
		raw, err := hex.DecodeString(ctl.LineCoding)
		if err != nil {
			return rep, errcode.Wrap(errcode.InvalidPayload, ctl.Op, err)
		}
		if _, err := br.HandleLineCoding(vcp.ReqSetLineCoding, raw); err != nil {
			return rep, err
		}
		s.lineApplied(br, "reconfigured")

	case OpGetLineCoding:
		var buf [vcp.LineCodingSize]byte
		n, err := br.HandleLineCoding(vcp.ReqGetLineCoding, buf[:])
		if err != nil {
			return rep, err
		}
		rep.LineCoding = hex.EncodeToString(buf[:n])

	case OpStats:
		st := s.snapshotStats()
		rep.Stats = &st
		rep.OK = true
		return rep, nil

	default:
		return rep, &errcode.E{C: errcode.Unsupported, Op: ctl.Op}
	}

	line := br.LineConfig()
	rep.Line = &line
	rep.OK = true
	return rep, nil
}

// lineApplied records the bridge's active line as the configured one.
func (s *Service) lineApplied(br *vcp.Bridge, status string) {
	s.cfg.Line = br.LineConfig()
	s.link.cfg.Line = s.cfg.Line
	s.publishState("up", status, nil)
}

func (s *Service) reply(req *bus.Message, rep types.BridgeReply, err error) {
	if err != nil {
		rep = types.BridgeReply{Error: string(errcode.Of(err))}
		logx.Println("[bridge] ctl failed:", err.Error())
	}
	s.conn.Reply(req, rep, false)
}
