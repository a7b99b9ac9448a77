package main

import (
	"log"

	"github.com/escribano/mapcache/internal/app"
	"github.com/escribano/mapcache/pkg/config"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalln("failed to load config: ", err)
	}

	app.Run(cfg)
}
