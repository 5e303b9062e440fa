package docstore

import (
	"bufio"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
	"go.uber.org/zap"
)

// Backup writes an xz-compressed full dump of the store.
func (s *Store) Backup(w io.Writer) error {
	zw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create xz writer: %w", err)
	}
	buffered := bufio.NewWriter(zw)
	version, err := s.db.Backup(buffered, 0)
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("backup: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		_ = zw.Close()
		return fmt.Errorf("flush backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close xz writer: %w", err)
	}
	s.logger.Info("backup written", zap.Uint64("version", version))
	return nil
}

// Restore loads a dump produced by Backup.
func (s *Store) Restore(r io.Reader) error {
	zr, err := xz.NewReader(bufio.NewReader(r))
	if err != nil {
		return fmt.Errorf("open xz stream: %w", err)
	}
	if err := s.db.Load(zr, 256); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	s.logger.Info("backup restored")
	return nil
}
