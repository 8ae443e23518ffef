package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/YuminosukeSato/tabflow/pkg/errors"
)

// ReadCSV はヘッダー行付きのカンマ区切りファイルを読み込む。
// ファイルが存在しない場合のエラーは fs.ErrNotExist を保持する
func ReadCSV(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()

	f, err := DecodeCSV(file)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	f.Source = path
	return f, nil
}

// DecodeCSV はReaderからFrameを読み込む。
// 先頭のBOMは取り除く。ヘッダーより短い行は足りない列を空文字（欠損値）で補い、
// 長い行はエラーにする
func DecodeCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.NewValueError("dataset.DecodeCSV", "missing header row")
	}
	if err != nil {
		return nil, err
	}
	header[0] = strings.TrimPrefix(header[0], byteOrderMark)

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch {
		case len(row) < len(header):
			padded := make([]string, len(header))
			copy(padded, row)
			row = padded
		case len(row) > len(header):
			line, _ := reader.FieldPos(0)
			return nil, errors.NewDimensionError(fmt.Sprintf("dataset.DecodeCSV (line %d)", line), len(header), len(row), 1)
		}
		rows = append(rows, row)
	}
	return NewFrame(header, rows)
}

const byteOrderMark = "\ufeff"

// WriteCSV はFrameをファイルに書き出す。途中のディレクトリは必要に応じて作成する
func WriteCSV(path string, f *Frame) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create directory %s", dir)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := EncodeCSV(file, f); err != nil {
		file.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return file.Close()
}

// EncodeCSV はFrameをヘッダー行付きで書き出す
func EncodeCSV(w io.Writer, f *Frame) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(f.columns); err != nil {
		return err
	}
	if err := writer.WriteAll(f.rows); err != nil {
		return err
	}
	return writer.Error()
}
