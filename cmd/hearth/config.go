package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tanodd/hearth/pubsub"
	"github.com/tanodd/hearth/services"
)

func config(path string, filenames []string) {
	if path != "config" && !strings.HasPrefix(path, "config/") {
		fmt.Println("Path must begin with 'config'")
		return
	}

	// concatenate files together
	data := &bytes.Buffer{}
	for _, filename := range filenames {
		f, err := os.Open(filename)
		if err != nil {
			fmt.Printf("Error opening %s: %s\n", filename, err)
			return
		}
		defer f.Close()
		_, err = io.Copy(data, f)
		if err != nil {
			fmt.Printf("Error reading %s: %s\n", filename, err)
			return
		}
		data.WriteByte('\n')
	}

	services.Setup("config")
	key := "hearth/" + path
	if err := services.Stor.Set(key, data.String()); err != nil {
		fmt.Printf("Error storing %s: %s\n", key, err)
		return
	}

	var ev *pubsub.Event
	if path == "config" {
		// the main config is distributed in full by retained event
		ev = pubsub.NewEvent("config", pubsub.Fields{"config": data.String()})
		ev.SetRetained(true)
	} else {
		// subconfigs are notified by path, services reread the store
		ev = pubsub.NewEvent("config", pubsub.Fields{"path": key})
	}
	services.Publisher.Emit(ev)
	ev.Published.Wait() // block on actually publishing
	fmt.Printf("Updated %s (%d bytes)\n", key, data.Len())
}
