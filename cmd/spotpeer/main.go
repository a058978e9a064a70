package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/spotpeer/cmd/spotpeer/app"
)

func main() {
	app.NewApp().Run()
}
