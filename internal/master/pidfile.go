package master

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// WritePidFile writes the master's pid, terminated by newline, to path.
func WritePidFile(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// ReadPidFile reads back a previously written pid file.
func ReadPidFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

// RenameToOldbin performs the ".oldbin" rename dance on binary upgrade:
// the running master's pid file is renamed aside so the new master can
// claim the canonical path; on upgrade failure RestoreFromOldbin moves it
// back.
func RenameToOldbin(path string) error {
	return os.Rename(path, path+".oldbin")
}

// RestoreFromOldbin undoes RenameToOldbin after a failed upgrade attempt.
func RestoreFromOldbin(path string) error {
	return os.Rename(path+".oldbin", path)
}

// RemoveOldbin removes the ".oldbin" pid file once an upgrade has fully
// succeeded and the old master has exited.
func RemoveOldbin(path string) error {
	err := os.Remove(path + ".oldbin")
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func oldbinPath(path string) string {
	return fmt.Sprintf("%s.oldbin", path)
}
