package storage

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/saviobatista/mavrelay/internal/types"
)

const dateLayout = "2006-01-02"

// Storage records MAVLink frames to per-vehicle tlog files. A tlog record is
// an 8-byte big-endian Unix timestamp in microseconds followed by the raw frame.
type Storage struct {
	outputDir string
	files     map[string]*os.File
	date      string
	now       func() time.Time
	mu        sync.Mutex
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a new Storage instance
func New(outputDir string) *Storage {
	return &Storage{
		outputDir: outputDir,
		files:     make(map[string]*os.File),
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// Start creates the output directory and starts the rotation timer
func (s *Storage) Start() error {
	if err := os.MkdirAll(s.outputDir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	s.mu.Lock()
	s.date = s.now().UTC().Format(dateLayout)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.rotationTimer()

	return nil
}

// Stop closes all open files and stops the rotation timer
func (s *Storage) Stop() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closeFiles()
}

// WriteFrame appends a frame to the vehicle's log file for the current day.
// vehicleID must be a UUID or "gcs".
func (s *Storage) WriteFrame(vehicleID string, timestamp time.Time, frame []byte) error {
	if err := types.ValidateVehicleID(vehicleID); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.now().UTC().Format(dateLayout)
	if s.date != today {
		if err := s.rotate(); err != nil {
			return err
		}
		s.date = today
	}

	file, ok := s.files[vehicleID]
	if !ok {
		var err error
		if file, err = s.openFile(vehicleID, today); err != nil {
			return err
		}
		s.files[vehicleID] = file
	}

	record := make([]byte, 8+len(frame))
	binary.BigEndian.PutUint64(record, uint64(timestamp.UnixMicro()))
	copy(record[8:], frame)

	if _, err := file.Write(record); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// LogPath returns the log file path for a vehicle and UTC day
func (s *Storage) LogPath(vehicleID string, day time.Time) string {
	return filepath.Join(s.outputDir, fmt.Sprintf("%s_%s.tlog", vehicleID, day.UTC().Format(dateLayout)))
}

// rotationTimer handles daily rotation at midnight UTC
func (s *Storage) rotationTimer() {
	defer s.wg.Done()

	for {
		now := time.Now().UTC()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
		waitTime := nextMidnight.Sub(now)

		select {
		case <-time.After(waitTime):
			s.mu.Lock()
			if err := s.rotate(); err != nil {
				log.Printf("Error during rotation: %v", err)
			}
			s.date = s.now().UTC().Format(dateLayout)
			s.mu.Unlock()
		case <-s.stopChan:
			return
		}
	}
}

// rotate closes the current day's files and compresses them. Callers hold s.mu.
func (s *Storage) rotate() error {
	paths := make([]string, 0, len(s.files))
	for _, file := range s.files {
		paths = append(paths, file.Name())
	}

	if err := s.closeFiles(); err != nil {
		return err
	}

	for _, path := range paths {
		if err := compressFile(path); err != nil {
			return fmt.Errorf("failed to compress file: %w", err)
		}
	}
	return nil
}

func (s *Storage) closeFiles() error {
	var firstErr error
	for vehicleID, file := range s.files {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close log file: %w", err)
		}
		delete(s.files, vehicleID)
	}
	return firstErr
}

func (s *Storage) openFile(vehicleID, date string) (*os.File, error) {
	filename := filepath.Join(s.outputDir, fmt.Sprintf("%s_%s.tlog", vehicleID, date))

	//nolint:gosec // filename is built from the configured output directory
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	return file, nil
}

// compressFile gzips path into path.gz and removes the original
func compressFile(path string) error {
	//nolint:gosec // path is controlled by application logic
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	//nolint:gosec // path is controlled by application logic
	target, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer target.Close()

	gzipWriter := gzip.NewWriter(target)
	if _, err := io.Copy(gzipWriter, source); err != nil {
		return err
	}
	if err := gzipWriter.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}

// ParseLogName extracts the vehicle ID and UTC day from a log file name
// produced by LogPath, with or without the .gz suffix.
func ParseLogName(path string) (string, time.Time, bool) {
	name := strings.TrimSuffix(filepath.Base(path), ".gz")
	name, ok := strings.CutSuffix(name, ".tlog")
	if !ok {
		return "", time.Time{}, false
	}

	sep := strings.LastIndexByte(name, '_')
	if sep <= 0 {
		return "", time.Time{}, false
	}

	day, err := time.Parse(dateLayout, name[sep+1:])
	if err != nil {
		return "", time.Time{}, false
	}
	return name[:sep], day, true
}
