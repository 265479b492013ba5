package internal

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// Catlink is a catlink process started for a test.
type Catlink struct {
	Name    string
	Port    uint16
	Command *exec.Cmd
	Dir     string
	LogChan <-chan string

	wg *sync.WaitGroup
}

// Addr is where the server listens.
func (c *Catlink) Addr() string { return fmt.Sprintf("127.0.0.1:%d", c.Port) }

var (
	buildOnce sync.Once
	binary    string
	buildErr  error
)

// buildCatlink builds the daemon once per test run.
func buildCatlink() error {
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "catlink-bin-")
		if err != nil {
			buildErr = errors.Wrap(err, "error creating build directory")
			return
		}
		binary = filepath.Join(dir, "catlink")

		cmd := exec.Command("go", "build", "-o", binary, ".")
		cmd.Dir = ".."

		log.Printf("Running %s in [%s]...", cmd.Args, cmd.Dir)
		if output, err := cmd.CombinedOutput(); err != nil {
			buildErr = errors.Wrapf(err, "error building catlink: %s", output)
		}
	})
	return buildErr
}

// harnessCatlink starts a server and waits until it is listening. args are
// extra command line arguments.
func harnessCatlink(name string, args ...string) (*Catlink, error) {
	if err := buildCatlink(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "catlink-")
	if err != nil {
		return nil, errors.Wrap(err, "error creating temporary directory")
	}

	port, err := getRandomPort()
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	argv := append([]string{name, fmt.Sprintf("127.0.0.1:%d", port),
		"--log-level", "debug"}, args...)
	cmd := exec.Command(binary, argv...)
	cmd.Dir = dir

	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, errors.Wrap(err, "error retrieving stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(dir)
		return nil, errors.Wrap(err, "error starting catlink")
	}

	logChan := make(chan string, 1024)
	var wg sync.WaitGroup
	wg.Add(1)
	go logReader(&wg, name, stderr, logChan)

	c := &Catlink{
		Name:    name,
		Port:    port,
		Command: cmd,
		Dir:     dir,
		LogChan: logChan,
		wg:      &wg,
	}

	if !waitForLog(logChan, regexp.MustCompile(`catlink started`)) {
		c.stop()
		return nil, errors.New("error waiting for catlink to start")
	}

	return c, nil
}

// getRandomPort finds a free port. It is free when we return, which is good
// enough for tests.
func getRandomPort() (uint16, error) {
	ln, err := net.Listen("tcp4", "127.0.0.1:")
	if err != nil {
		return 0, errors.Wrap(err, "error opening a random port")
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := ln.Close(); err != nil {
		return 0, errors.Wrap(err, "error closing listener")
	}
	return uint16(port), nil
}

func logReader(wg *sync.WaitGroup, prefix string, r io.Reader,
	ch chan<- string) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		log.Printf("%s: %s", prefix, line)

		select {
		case ch <- line:
		default:
		}
	}
}

// stop asks the server to shut down and waits for it. If it does not go in
// time it is killed.
func (c *Catlink) stop() {
	if err := c.Command.Process.Signal(syscall.SIGTERM); err != nil {
		log.Printf("error signalling catlink: %s", err)
	}

	done := make(chan struct{})
	go func() {
		_ = c.Command.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Printf("catlink %s did not stop, killing it", c.Name)
		_ = c.Command.Process.Kill()
		<-done
	}

	c.wg.Wait()
	_ = os.RemoveAll(c.Dir)
}

// writeFile writes a file in the server's directory and returns its path.
func (c *Catlink) writeFile(name, content string) (string, error) {
	path := filepath.Join(c.Dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", errors.Wrapf(err, "error writing %s", path)
	}
	return path, nil
}

func waitForLog(ch <-chan string, re *regexp.Regexp) bool {
	timeout := time.After(10 * time.Second)

	for {
		select {
		case s := <-ch:
			if re.MatchString(s) {
				return true
			}
		case <-timeout:
			return false
		}
	}
}
