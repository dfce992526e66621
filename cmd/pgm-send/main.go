// Command pgm-send publishes lines read from stdin as PGM APDUs to a
// configured multicast group, demonstrating the transport's create/
// bind/send/destroy lifecycle end to end.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/jabolina/go-pgm/pkg/pgm/config"
	"github.com/jabolina/go-pgm/pkg/pgm/core"
	"github.com/jabolina/go-pgm/pkg/pgm/definition"
	"github.com/jabolina/go-pgm/pkg/pgm/registry"
	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to endpoint YAML config")
	group := pflag.String("group", "239.192.0.1", "send group address (overrides config)")
	port := pflag.Uint16("port", 7500, "destination port (overrides config)")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	idGen := definition.NewIDGenerator()
	tsi := types.NewTSI(idGen.Generate(), uint16(os.Getpid()&0xffff))

	var info types.EndpointInfo
	if *configPath != "" {
		doc, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		info, err = doc.ToEndpointInfo(tsi)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if pflag.CommandLine.Changed("group") {
			info.SendGroup = types.GroupSourceRequest{Group: parseIPOrExit(*group)}
		}
		if pflag.CommandLine.Changed("port") {
			info.DestinationPort = *port
		}
	} else {
		info = types.DefaultEndpointInfo(tsi, *port)
		info.SendGroup = types.GroupSourceRequest{Group: parseIPOrExit(*group)}
	}

	log := definition.NewLogger(tsi.String())
	log.SetLevel(*debug)
	metrics := definition.NewMetrics(nil)
	reg := registry.New()

	transport, err := core.Create(info, log, metrics, idGen, reg)
	if err != nil {
		log.Fatalf("create: %v", err)
	}
	if err := transport.Bind(); err != nil {
		log.Fatalf("bind: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Info("shutting down")
		_ = transport.Destroy(true)
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := transport.Send(line); err != nil {
			log.Errorf("send: %v", err)
		}
	}

	_ = transport.Destroy(true)
}

func parseIPOrExit(s string) (ip net.IP) {
	ip = net.ParseIP(s)
	if ip == nil {
		fmt.Fprintf(os.Stderr, "invalid group address %q\n", s)
		os.Exit(1)
	}
	return ip
}
