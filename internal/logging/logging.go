package logging

import (
	"log"
	"os"
)

func init() {
	log.SetFlags(log.Ldate | log.Ltime)
	log.SetOutput(os.Stdout)
}

// SetOutputFile redirects all logging to the file at path, for the
// "-logfile PATH" command line switch. The caller is responsible for
// closing the returned file at shutdown.
func SetOutputFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	log.SetOutput(f)
	return f, nil
}
