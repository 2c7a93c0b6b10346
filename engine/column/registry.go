package column

import (
	"sync"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/util"
)

// The OS file lock only guards against other processes; this registry keeps
// the same column file from being opened twice within the process. Files are
// keyed by the hash of their absolute path.
var openFiles = struct {
	sync.Mutex
	paths map[uint64]string
}{paths: make(map[uint64]string)}

func registerOpenFile(absPath string) (uint64, error) {
	key := util.HashString(absPath)
	openFiles.Lock()
	defer openFiles.Unlock()
	if existing, ok := openFiles.paths[key]; ok {
		return 0, errors.Annotatef(basic.ErrFileAlreadyOpen, "%s", existing)
	}
	openFiles.paths[key] = absPath
	return key, nil
}

func unregisterOpenFile(key uint64) {
	openFiles.Lock()
	defer openFiles.Unlock()
	delete(openFiles.paths, key)
}
