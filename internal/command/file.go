package command

import (
	"io/ioutil"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/solarmate/hardware/mate"
	"github.com/temoto/solarmate/log2"
)

// FileProvider reads operator commands from a text file, one name per line.
// File is truncated on start. Each Poll consumes first non-empty line.
type FileProvider struct {
	Path    string
	log     *log2.Log
	missing bool
}

// NewFileProvider truncates or creates the file.
// Error means manual input is unavailable, caller should omit this provider.
func NewFileProvider(path string, log *log2.Log) (*FileProvider, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0664)
	if err != nil {
		return nil, errors.Annotatef(err, "command input path=%s", path)
	}
	if err = f.Close(); err != nil {
		return nil, errors.Annotatef(err, "command input path=%s", path)
	}
	return &FileProvider{Path: path, log: log}, nil
}

func (self *FileProvider) Poll() (SourcedCommand, bool) {
	b, err := ioutil.ReadFile(self.Path)
	if err != nil {
		if !self.missing {
			self.missing = true
			self.log.Errorf("command input read err=%v", err)
		}
		return SourcedCommand{}, false
	}
	self.missing = false
	if len(b) == 0 {
		return SourcedCommand{}, false
	}

	lines := strings.Split(string(b), "\n")
	for i, line := range lines {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		rest := strings.Join(lines[i+1:], "\n")
		if err := ioutil.WriteFile(self.Path, []byte(rest), 0664); err != nil {
			self.log.Errorf("command input rewrite err=%v", err)
		}
		c, err := mate.ParseCommand(name)
		if err != nil {
			self.log.Errorf("command input line=%q err=%v", name, err)
			return SourcedCommand{}, false
		}
		return SourcedCommand{Command: c, Source: SourceManual}, true
	}
	// only blank lines
	if err := ioutil.WriteFile(self.Path, nil, 0664); err != nil {
		self.log.Errorf("command input rewrite err=%v", err)
	}
	return SourcedCommand{}, false
}

// AppendCommand is used by operator tools to submit command into input file.
func AppendCommand(path string, c mate.Command) error {
	if !c.Valid() {
		return errors.NotValidf("command=%s", c)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return errors.Annotatef(err, "command input path=%s", path)
	}
	_, err = f.WriteString(c.String() + "\n")
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return errors.Annotatef(err, "command input path=%s", path)
}
