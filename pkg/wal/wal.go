// Package wal 提供 append-only 的 Write-Ahead Log。
// 每筆紀錄為一行 JSON，寫入後立即 fsync，重啟時可完整重放。
package wal

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"
)

// FileModeLog rw-r--r--，擁有者讀寫、其他人唯讀
const FileModeLog fs.FileMode = 0644

type WAL struct {
	file *os.File
	mu   sync.Mutex
}

// Open 開啟或建立 WAL 檔案
// O_APPEND 讓每次寫入自動落在檔案末尾，O_CREATE 於檔案不存在時建立
func Open(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModeLog)
	if err != nil {
		return nil, err
	}
	return &WAL{file: file}, nil
}

// Append 寫入一筆紀錄並刷入硬碟
// fsync 成功前不得回報 commit 成功
func (w *WAL) Append(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := json.NewEncoder(w.file).Encode(v); err != nil {
		return err
	}
	return w.file.Sync()
}

// Replay 從頭讀取所有紀錄，逐筆交給 callback
// 逐筆 decode，避免一次把整個檔案載入記憶體
func (w *WAL) Replay(callback func(raw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	decoder := json.NewDecoder(w.file)
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if err := callback(raw); err != nil {
			return err
		}
	}

	// Replay 結束後回到末尾，後續 Append 依賴 O_APPEND 即可
	_, err := w.file.Seek(0, io.SeekEnd)
	return err
}

// Close 關閉檔案
func (w *WAL) Close() error {
	return w.file.Close()
}
