package main

import (
	"flag"
	"fmt"
	"os"
)

var (
	hf         bool
	configPath string
	logLevel   string
	mode       string
)

// 运行模式
const (
	ModeFill  = "fill"
	ModeServe = "serve"
)

func InitFlag() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&configPath, "c", "./conf/conf.toml", "set config `file`")
	flag.StringVar(&logLevel, "l", "info", "set log level (default: info)")
	flag.StringVar(&mode, "m", ModeFill, "run `mode`: fill writes the configured region to the output, serve starts the tile server")
	flag.Usage = usage
	flag.Parse()

	if hf {
		flag.Usage()
		os.Exit(0)
	}
	if mode != ModeFill && mode != ModeServe {
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", mode)
		flag.Usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `tiler version: tiler/v0.2.0
Usage: tiler [-h] [-c filename] [-l logLevel] [-m fill|serve]
`)
	flag.PrintDefaults()
}
