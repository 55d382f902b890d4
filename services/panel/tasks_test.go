package panel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTasksSchedule(t *testing.T) {
	tasks := NewTasks()
	defer tasks.Stop()
	fired := make(chan string, 10)
	tasks.Schedule("a", 5*time.Millisecond, func() { fired <- "a" })
	assert.Equal(t, "a", <-fired)
}

func TestTasksSupersede(t *testing.T) {
	tasks := NewTasks()
	defer tasks.Stop()
	fired := make(chan string, 10)
	tasks.Schedule("a", 20*time.Millisecond, func() { fired <- "first" })
	tasks.Schedule("a", 5*time.Millisecond, func() { fired <- "second" })
	assert.Equal(t, "second", <-fired)
	select {
	case got := <-fired:
		t.Fatalf("superseded task fired: %s", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTasksCancel(t *testing.T) {
	tasks := NewTasks()
	defer tasks.Stop()
	fired := make(chan string, 10)
	tasks.Schedule("a", 5*time.Millisecond, func() { fired <- "a" })
	tasks.Cancel("a")
	select {
	case <-fired:
		t.Fatal("cancelled task fired")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestTasksIndependentKeys(t *testing.T) {
	tasks := NewTasks()
	defer tasks.Stop()
	fired := make(chan string, 10)
	tasks.Schedule("a", 5*time.Millisecond, func() { fired <- "a" })
	tasks.Schedule("b", 15*time.Millisecond, func() { fired <- "b" })
	assert.Equal(t, "a", <-fired)
	assert.Equal(t, "b", <-fired)
}

func TestTasksStop(t *testing.T) {
	tasks := NewTasks()
	fired := make(chan string, 10)
	tasks.Schedule("a", 5*time.Millisecond, func() { fired <- "a" })
	tasks.Stop()
	// nothing pending fires, and new work is refused
	tasks.Schedule("b", time.Millisecond, func() { fired <- "b" })
	select {
	case got := <-fired:
		t.Fatalf("task fired after stop: %s", got)
	case <-time.After(30 * time.Millisecond):
	}
}
