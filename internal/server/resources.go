package server

import (
	"errors"
	"net"
	"sync"

	"github.com/danmuck/aesdsocket/internal/store"
	"github.com/rs/zerolog/log"
)

// Resources owns the process-lifetime handles: the listening socket and
// the log store path. Release runs once no matter how many exit paths
// reach it.
type Resources struct {
	ln       net.Listener
	dataPath string

	once sync.Once
	err  error
}

func NewResources(ln net.Listener, dataPath string) *Resources {
	return &Resources{ln: ln, dataPath: dataPath}
}

// Release closes the listener and deletes the store file.
func (r *Resources) Release() error {
	r.once.Do(func() {
		var errs []error
		if r.ln != nil {
			if err := r.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if err := store.Remove(r.dataPath); err != nil {
			errs = append(errs, err)
		}
		r.err = errors.Join(errs...)
		if r.err != nil {
			log.Error().Err(r.err).Str("path", r.dataPath).Msg("cleanup failed")
			return
		}
		log.Info().Str("path", r.dataPath).Msg("cleanup complete")
	})
	return r.err
}
