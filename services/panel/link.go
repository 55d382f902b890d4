package panel

import (
	"bufio"
	"encoding/json"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotConnected = errors.New("panel: not connected")
	ErrBadAddress   = errors.New("panel: invalid address")
)

// Status as reported by the panel device.
type Status struct {
	ScreenOn        bool `json:"screen_on"`
	Brightness      int  `json:"brightness"`
	BatteryLevel    int  `json:"battery_level"`
	BatteryCharging bool `json:"battery_charging"`
	Proximity       bool `json:"proximity"`
	ScreenTimeout   int  `json:"screen_timeout"`
}

// Commander is the set of commands the controller issues to the device.
type Commander interface {
	Wake() error
	Sleep() error
	SetBrightness(value int) error
	Status() (Status, error)
}

type request struct {
	Id     int64       `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type response struct {
	Id     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// Link holds the control session to the panel device, a json line protocol
// over tcp. Requests are serialized over a single connection, and a health
// check task pings and reconnects the session in the background.
type Link struct {
	timeout  time.Duration
	interval time.Duration
	onUp     func()
	stop     chan struct{}

	mu      sync.Mutex // serializes session use and replacement
	address string
	conn    net.Conn
	rd      *bufio.Reader
	nextId  int64
	lastErr error
	stopped bool
}

func NewLink(address string, timeout, interval time.Duration, onUp func()) *Link {
	return &Link{
		address:  address,
		timeout:  timeout,
		interval: interval,
		onUp:     onUp,
		stop:     make(chan struct{}),
	}
}

// Start connects and launches the health check task. A failed initial
// connect is retried by the health checks. With no address configured the
// link idles until the companion reports one through SetAddress.
func (self *Link) Start() {
	self.mu.Lock()
	if self.address == "" {
		log.Println("Panel address not configured, waiting for one")
	} else if err := self.connect(); err != nil {
		log.Println("Panel connect failed:", err)
	}
	self.mu.Unlock()
	go self.healthLoop()
}

// connect dials the configured address. mu must be held.
func (self *Link) connect() error {
	if self.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", self.address, self.timeout)
	if err != nil {
		self.lastErr = err
		return errors.Wrap(err, "panel: connect")
	}
	self.conn = conn
	self.rd = bufio.NewReader(conn)
	self.lastErr = nil
	return nil
}

// dropSession closes and forgets the connection. mu must be held.
func (self *Link) dropSession(err error) {
	self.conn.Close()
	self.conn = nil
	self.rd = nil
	self.lastErr = err
}

func (self *Link) healthLoop() {
	ticker := time.NewTicker(self.interval)
	defer ticker.Stop()
	for {
		select {
		case <-self.stop:
			return
		case <-ticker.C:
			self.check()
		}
	}
}

// check pings the session, dropping it when broken and redialling until it
// comes back. The recovery callback fires once per outage.
func (self *Link) check() {
	self.mu.Lock()
	if self.stopped {
		self.mu.Unlock()
		return
	}
	if self.conn != nil {
		_, err := self.roundTrip("ping", nil)
		if err == nil {
			self.mu.Unlock()
			return
		}
		log.Println("Panel link lost:", err)
		self.dropSession(err)
	}
	if self.address == "" {
		self.mu.Unlock()
		return
	}
	err := self.connect()
	self.mu.Unlock()
	if err != nil {
		return // retried next interval
	}
	log.Println("Panel link reestablished")
	if self.onUp != nil {
		self.onUp()
	}
}

// roundTrip sends one request and reads its response. Stale responses left
// over from timed out requests are skipped by id. mu must be held.
func (self *Link) roundTrip(method string, params interface{}) (json.RawMessage, error) {
	if self.conn == nil {
		return nil, ErrNotConnected
	}
	self.nextId++
	req := request{Id: self.nextId, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	self.conn.SetDeadline(time.Now().Add(self.timeout))
	if _, err := self.conn.Write(append(data, '\n')); err != nil {
		return nil, errors.Wrap(err, "panel: write")
	}
	for {
		line, err := self.rd.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "panel: read")
		}
		var resp response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			return nil, errors.Wrap(err, "panel: bad response")
		}
		if resp.Id != req.Id {
			continue
		}
		if resp.Error != "" {
			return nil, errors.Errorf("panel: %s: %s", method, resp.Error)
		}
		return resp.Result, nil
	}
}

func (self *Link) command(method string, params interface{}) (json.RawMessage, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.roundTrip(method, params)
}

func (self *Link) Wake() error {
	_, err := self.command("wake", nil)
	return err
}

func (self *Link) Sleep() error {
	_, err := self.command("sleep", nil)
	return err
}

func (self *Link) SetBrightness(value int) error {
	_, err := self.command("brightness", map[string]int{"value": value})
	return err
}

func (self *Link) Status() (Status, error) {
	var st Status
	res, err := self.command("status", nil)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(res, &st); err != nil {
		return st, errors.Wrap(err, "panel: bad status")
	}
	return st, nil
}

func (self *Link) Connected() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.conn != nil
}

// LastError returns the error that last took the session down.
func (self *Link) LastError() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.lastErr
}

func (self *Link) Address() string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.address
}

// SetAddress points the session at a new address, used when the companion
// app reports a new control port. The new address is dialled before the old
// session is replaced, so a failure leaves the current session untouched.
func (self *Link) SetAddress(address string) error {
	if err := validateAddress(address); err != nil {
		return err
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	conn, err := net.DialTimeout("tcp", address, self.timeout)
	if err != nil {
		return errors.Wrap(err, "panel: connect")
	}
	if self.conn != nil {
		self.conn.Close()
	}
	self.address = address
	self.conn = conn
	self.rd = bufio.NewReader(conn)
	self.lastErr = nil
	return nil
}

func validateAddress(address string) error {
	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return errors.Wrapf(ErrBadAddress, "%s", address)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return errors.Wrapf(ErrBadAddress, "%s", address)
	}
	return nil
}

func (self *Link) Stop() {
	close(self.stop)
	self.mu.Lock()
	self.stopped = true
	if self.conn != nil {
		self.dropSession(nil)
	}
	self.mu.Unlock()
}
