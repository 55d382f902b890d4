package config

import "strings"

var ExampleYaml = `
devices:
  light.kitchen:
    group: downstairs
    name: Kitchen
    caps: [light]
    source: hue.1
    location: Kitchen
  light.glowworm:
    group: downstairs
    name: Glowworm
    caps: [light, dimmer]
    source: homeeasy.00123453
    aliases: [glow worm]
    location: Living Room
  light.hall:
    group: downstairs
    name: Hall
    caps: [light]
    source: hue.2
    location: Hall
  panel.hall:
    name: Hall panel
    caps: [panel]
    location: Hall
  chromecast.living:
    name: Living room chromecast
    source: cast.Living Room
    location: Living Room
  door.front:
    name: Front door
    caps: [door]
    location: Hall
  person.tano:
    name: Tano
    caps: [person]
  temp.garden:
    name: Garden temperature
    location: Garden
protocols:
  x10:
    b03: light.glowworm
automata:
  restore: 30m
cast:
  players: [chromecast.living]
datalogger:
  path: ~/hearth/data.db
earth:
  latitude: 51.5072
  longitude: -0.1275
hue:
  host: 192.168.1.10
  user: huebridgeuser
  interval: 30s
panel:
  device: panel.hall
  address: 192.168.1.60:8424
  listen: :8080
  idle_timeout: 60s
  poll: 500ms
  resend: 2s
  health: 10s
  timeout: 5s
  brightness:
    auto: true
    min: 10
    max: 255
    interval: 5s
presence:
  trigger: door.front
  people:
    person.tano:
    - ping:192.168.1.21
telegram:
  token: 110201543:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw
  chat_id: 12345678
watchdog:
  alert: telegram
  devices:
    panel.hall: 5m
    temp.garden: 20m
  pings:
  - 192.168.1.60
`

var ExampleConfig = Must(OpenReader(strings.NewReader(ExampleYaml)))
