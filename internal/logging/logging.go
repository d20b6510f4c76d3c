package logging

import (
	"log"
	"os"
)

func New() *log.Logger {
	return log.New(os.Stdout, "lh-audit ", log.LstdFlags|log.LUTC)
}
