package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// OverflowLog — локальный долговечный журнал на случай недоступности БД.
// Формат: JSON Lines, запись завершается fsync. Drain атомарно забирает
// содержимое и усекает файл; гонка Append/Drain закрыта мьютексом.
type OverflowLog struct {
	mu   sync.Mutex
	path string
}

func NewOverflowLog(path string) *OverflowLog {
	return &OverflowLog{path: path}
}

// Append дописывает события в конец журнала с fsync.
func (o *OverflowLog) Append(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("overflow open: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("overflow encode: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("overflow flush: %w", err)
	}
	// fsync — иначе «долговечность» журнала существует только на словах
	if err := f.Sync(); err != nil {
		return fmt.Errorf("overflow fsync: %w", err)
	}
	return nil
}

// Drain возвращает накопленные события и усекает журнал.
// Битые строки (оборванная запись при падении) пропускаются с сохранением остальных.
func (o *OverflowLog) Drain() ([]Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.Open(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("overflow open: %w", err)
	}

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return nil, fmt.Errorf("overflow scan: %w", scanErr)
	}

	if err := os.Truncate(o.path, 0); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("overflow truncate: %w", err)
	}
	return events, nil
}

// Size — число записей в журнале (для операторской метрики).
func (o *OverflowLog) Size() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.Open(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			n++
		}
	}
	return n, scanner.Err()
}
