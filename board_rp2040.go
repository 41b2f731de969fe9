//go:build rp2040

package main

const device = "pico"
