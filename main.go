package main

import (
	"github.com/sahilchouksey/search-gateway/app"
)

func main() {
	// setup and run app
	if err := app.SetupAndRunServer(); err != nil {
		panic(err)
	}
}
