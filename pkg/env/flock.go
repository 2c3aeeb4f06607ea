package env

import (
	"syscall"

	"github.com/nainya/hamsterdb/pkg/herr"
)

// acquireLock takes an advisory exclusive flock on path, mirroring the
// original API's refusal to let two ham_env_t handles open the same
// file at once. The lock is held on a dedicated fd for the environment's
// lifetime and released in releaseLock at Close.
func acquireLock(path string) (int, error) {
	fd, err := syscall.Open(path+".lock", syscall.O_CREAT|syscall.O_RDWR, 0o644)
	if err != nil {
		return -1, herr.Wrap("env.acquireLock", herr.CodeIOError, err)
	}
	if err := syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = syscall.Close(fd)
		return -1, herr.Wrap("env.acquireLock", herr.CodeDatabaseAlreadyOpen, err)
	}
	return fd, nil
}

func releaseLock(fd int) error {
	_ = syscall.Flock(fd, syscall.LOCK_UN)
	return syscall.Close(fd)
}
