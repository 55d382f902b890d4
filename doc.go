// The hearth home automation hub
//
// Features
//
// - Presence-driven wall panel control (wake, sleep, adaptive brightness)
//
// - Smart and configurable automation
//
// - Modular services communicating over MQTT
//
// - Lightweight, small memory footprint (runs on the Raspberry Pi)
//
// - Remotely controllable (REST API, websockets, Telegram)
//
// Services supported
//
// - REST API
//
// - Telegram
//
// - Philips Hue
//
// - Google Chromecast
//
// - Network presence (ping)
//
// - Data logging (sqlite)
//
// Devices supported
//
// - Wall-mounted kiosk tablets with a JSON line protocol endpoint
//
// - Philips Hue bridges and lights
//
// - Chromecast audio and video receivers
package hearth
