//go:build rp2350

package main

const device = "pico2"
