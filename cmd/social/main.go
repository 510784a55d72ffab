package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/Zereker/social/internal/server"
)

func main() {
	configFile := flag.String("config", "configs/config.toml", "Path to config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("social", server.Version)
		return
	}

	if err := run(*configFile); err != nil {
		log.Printf("social: %v", err)
		os.Exit(1)
	}
}

// run 返回后才退出进程，保证 Shutdown 执行
func run(configFile string) error {
	conf, err := server.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	srv, err := server.NewServer(conf)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	defer func() { _ = srv.Shutdown() }()

	return srv.Start()
}
