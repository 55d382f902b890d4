package automata

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeActions struct {
	calls []string
}

func (self *fakeActions) Alert(msg string, target string) {
	self.calls = append(self.calls, fmt.Sprintf("alert %q to %s", msg, target))
}

func (self *fakeActions) Dim(level int64) {
	self.calls = append(self.calls, fmt.Sprintf("dim %d", level))
}

func (self *fakeActions) Heat(on bool) {
	self.calls = append(self.calls, fmt.Sprintf("heat %v", on))
}

func (self *fakeActions) Join(sep string, parts ...string) {
	self.calls = append(self.calls, strings.Join(parts, sep))
}

func TestDynamicCall(t *testing.T) {
	obj := &fakeActions{}
	assert.NoError(t, DynamicCall(obj, `Alert("hello", "telegram")`))
	assert.NoError(t, DynamicCall(obj, `Dim(50)`))
	assert.NoError(t, DynamicCall(obj, `Heat(true)`))
	assert.NoError(t, DynamicCall(obj, `Join("-", "a", "b")`))
	assert.Equal(t, []string{
		`alert "hello" to telegram`,
		"dim 50",
		"heat true",
		"a-b",
	}, obj.calls)
}

func TestDynamicCallErrors(t *testing.T) {
	obj := &fakeActions{}
	assert.EqualError(t, DynamicCall(obj, `Sing("la")`), `Sing("la"): no such method`)
	assert.Error(t, DynamicCall(obj, `Dim("half")`)) // wrong argument type
	assert.Error(t, DynamicCall(obj, `Dim(level)`))  // unknown identifier
	assert.Error(t, DynamicCall(obj, `42`))          // not a call
	assert.Empty(t, obj.calls)
}

func TestSubstitute(t *testing.T) {
	vals := map[string]string{"device": "light.kitchen", "state": "on"}
	msg := Substitute("$device turned $state at $time", vals)
	assert.Equal(t, "light.kitchen turned on at $time", msg)
}
