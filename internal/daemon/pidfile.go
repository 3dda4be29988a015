package daemon

import (
	"fmt"
	"os"
	"strconv"
)

// PIDFile tracks the daemon's own PID on disk so an operator (or a process
// manager) can tell whether a stealthswapd instance is already running.
type PIDFile struct {
	path string
}

func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Write fails if a PID file already exists, since two daemons sharing one
// store/vault would race on the same database.
func (p *PIDFile) Write() error {
	if p.Active() {
		return fmt.Errorf("daemon: pid file %s already exists, is another instance running?", p.path)
	}
	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func (p *PIDFile) Remove() error {
	if !p.Active() {
		return nil
	}
	return os.Remove(p.path)
}

func (p *PIDFile) Active() bool {
	_, err := os.Stat(p.path)
	return err == nil
}
