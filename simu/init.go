package simu

import (
	"math/rand"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

func init() {
	if err := os.MkdirAll("./log/", 0777); err != nil {
		panic(err)
	}

	file, err := os.Create("./log/info")
	if err != nil {
		panic(err)
	}

	log.SetOutput(file)
	log.SetLevel(log.DebugLevel)

	rand.Seed(time.Now().Unix())
}
