// Xeno host - runs the embedded language bridge over standard I/O.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/vlplay/xeno/manifest"
	"github.com/vlplay/xeno/pkg/xeno"
	"github.com/vlplay/xeno/server"
)

func main() {
	verbosity := flag.Int("verbose", 0, "Log verbosity (0=quiet, 1=info, 2=debug)")
	listen := flag.String("listen", "", "Also serve the bridge protocol over WebSocket on this address")
	infoFile := flag.String("info-file", server.DefaultInfoFile, "Metadata file written at startup")
	noManifest := flag.Bool("no-manifest", false, "Skip loading xeno.toml")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: xeno [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs the Xeno bridge: line-oriented commands on stdin, responses on stdout.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  xeno                          # stdio bridge\n")
		fmt.Fprintf(os.Stderr, "  xeno -listen localhost:7766   # stdio + WebSocket bridge\n")
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)
	log := commonlog.GetLogger("xeno.main")

	var m *manifest.Manifest
	if !*noManifest {
		cwd, err := os.Getwd()
		if err == nil {
			m, err = manifest.FindAndLoad(cwd)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: error loading xeno.toml: %v\n", err)
		}
	}

	engine := xeno.NewEngine()
	quiet := m.QuietDefault()

	if m != nil {
		if err := m.ApplyLimits(engine.Policy()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		if m.Bridge.InfoFile != "" && *infoFile == server.DefaultInfoFile {
			*infoFile = m.Bridge.InfoFile
		}
		if m.Bridge.Listen != "" && *listen == "" {
			*listen = m.Bridge.Listen
		}
	}

	if err := server.WriteInfoFile(*infoFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not write %s: %v\n", *infoFile, err)
	}

	if *listen != "" {
		go func() {
			if err := server.ListenAndServe(*listen, quiet); err != nil {
				log.Errorf("websocket bridge: %v", err)
			}
		}()
	}

	bridge := server.NewBridge(engine, os.Stdin, os.Stdout, quiet)
	if err := bridge.Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "bridge error: %v\n", err)
		os.Exit(1)
	}
}
