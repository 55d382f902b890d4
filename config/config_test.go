package config

import (
	"fmt"
	"time"

	"github.com/tanodd/hearth/pubsub"
)

var yml = `
panel:
  device: panel.hall
  idle_timeout: 90s
protocols:
  hue:
    "1": light.kitchen
`

func ExampleOpenRaw() {
	config, _ := OpenRaw([]byte(yml))
	fmt.Println(config.Panel.Device)
	fmt.Println(config.Panel.Idle_Timeout.Duration)
	fmt.Println(config.Panel.Poll.Or(500 * time.Millisecond))
	// Output:
	// panel.hall
	// 1m30s
	// 500ms
}

func ExampleConfig_LookupDeviceName() {
	config, _ := OpenRaw([]byte(yml))
	fields := pubsub.Fields{"source": "1"}
	ev := pubsub.NewEvent("hue", fields)
	fmt.Println(config.LookupDeviceName(ev))
	// Output:
	// light.kitchen
}

func ExampleConfig_LookupDeviceName_missing() {
	config, _ := OpenRaw([]byte(yml))
	fields := pubsub.Fields{"source": "2"}
	ev := pubsub.NewEvent("hue", fields)
	fmt.Println(config.LookupDeviceName(ev))
	// Output:
	// hue.2
}

func ExampleConfig_LookupDeviceProtocol() {
	config := ExampleConfig
	fmt.Println(config.LookupDeviceProtocol("light.glowworm", "homeeasy"))
	fmt.Println(config.LookupDeviceProtocol("light.glowworm", "x10"))
	fmt.Println(config.LookupDeviceProtocol("light.glowworm", "hue"))
	// Output:
	// 00123453 true
	// b03 true
	//  false
}
