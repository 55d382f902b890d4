package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strings"

	"github.com/tanodd/hearth/services"
	"github.com/tanodd/hearth/services/api"
	"github.com/tanodd/hearth/services/automata"
	"github.com/tanodd/hearth/services/cast"
	"github.com/tanodd/hearth/services/datalogger"
	"github.com/tanodd/hearth/services/hue"
	"github.com/tanodd/hearth/services/panel"
	"github.com/tanodd/hearth/services/presence"
	"github.com/tanodd/hearth/services/telegram"
	"github.com/tanodd/hearth/services/watchdog"
)

func registerServices() {
	// register available services
	services.Register(&api.Service{})
	services.Register(&automata.Service{})
	services.Register(&cast.Service{})
	services.Register(&datalogger.Service{})
	services.Register(&hue.Service{})
	services.Register(&panel.Service{})
	services.Register(&presence.Service{})
	services.Register(&telegram.Service{})
	services.Register(&watchdog.Service{})
}

func usage() {
	fmt.Println("Usage: hearth COMMAND [ARGS]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("   config  path filename...  Update config")
	fmt.Println("   run     service...        Run services")
	fmt.Println("   status  [service]         Get service status")
	fmt.Println("   switch  device command    Control a device")
	fmt.Println("   query   verb [args]       Query services")
	fmt.Println()
}

var emptyParams = url.Values{}

func main() {
	log.SetOutput(os.Stdout)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	ps := []string{}
	if flag.NArg() > 1 {
		ps = flag.Args()[1:]
	}
	// ignore anything after '--'
	for i := range ps {
		if ps[i] == "--" {
			ps = ps[0:i]
			break
		}
	}

	services.SetupLogging()

	command := flag.Args()[0]
	switch command {
	default:
		usage()
	case "config":
		if len(ps) < 2 {
			usage()
			return
		}
		config(ps[0], ps[1:])
	case "status":
		if len(ps) == 0 {
			// all services
			query("status", []string{}, emptyParams)
		} else {
			// single service
			query(ps[0]+"/status", []string{}, url.Values{"responses": {"1"}})
		}
	case "run":
		service(ps)
	case "switch":
		commandSwitch(ps)
	case "query":
		if len(ps) == 0 {
			usage()
			return
		}
		query(ps[0], ps[1:], url.Values{"timeout": {"5000"}, "responses": {"1"}})
	}
}

func commandSwitch(ps []string) {
	if len(ps) < 2 {
		usage()
		return
	}

	params := url.Values{
		"id":      []string{ps[0]},
		"command": []string{ps[1]},
	}
	for _, arg := range ps[2:] {
		kv := strings.SplitN(arg, "=", 2)
		if len(kv) > 1 {
			params[kv[0]] = kv[1:2]
		}
	}
	resp, err := request("devices/control", params)
	if err != nil {
		fmtFatalf("error: %s\n", err)
	}
	defer resp.Body.Close()
	io.Copy(os.Stdout, resp.Body)
}

// Start builtin services
func service(ss []string) {
	// accept both space and comma separated service lists
	var names []string
	for _, s := range ss {
		for _, name := range strings.Split(s, ",") {
			if name != "" {
				names = append(names, name)
			}
		}
	}
	if len(names) == 0 {
		usage()
		return
	}
	services.Setup(strings.Join(names, ","))
	registerServices()
	services.Launch(names)
}
