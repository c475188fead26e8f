// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar_test

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devblok/vkplayground/utility/kar"
	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

var (
	testString1 = "idunvovkjnreovmegihjbrqlkmfrjnb"
	testString2 = "idunvovkjnreovmsdvwrvnervnreegihjbrqlkmfrjnb"
	testString3 = strings.Repeat("this is a longer, well compressible test ", 512)
)

func build(t testing.TB) []byte {
	builder, err := kar.NewBuilder(kar.Header{
		Author:      "devblok",
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer builder.Close()

	for name, content := range map[string]string{
		"test":          testString1,
		"test2":         testString2,
		"dir/long.text": testString3,
	} {
		if err := builder.Add(name, strings.NewReader(content)); err != nil {
			t.Fatal(err)
		}
	}
	if builder.Len() != 3 {
		t.Errorf("incorrect number of files present: %d", builder.Len())
	}

	buf := bytes.NewBuffer([]byte{})
	written, err := builder.WriteTo(buf)
	if err != nil {
		t.Fatal(err)
	}
	if written != int64(buf.Len()) {
		t.Errorf("reported %d bytes written, buffer has %d", written, buf.Len())
	}
	return buf.Bytes()
}

func TestCreateAndRead(t *testing.T) {
	ar, err := kar.Open(bytes.NewReader(build(t)))
	if err != nil {
		t.Fatal(err)
	}

	f, err := ar.Open("test")
	if err != nil {
		t.Fatal(err)
	}
	result, err := ioutil.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(result) != testString1 {
		t.Error("test string does not match up")
	}
	if f.Size() != int64(len(testString1)) {
		t.Errorf("unexpected size %d", f.Size())
	}
}

func TestCreateAndReadAll(t *testing.T) {
	ar, err := kar.Open(bytes.NewReader(build(t)))
	if err != nil {
		t.Fatal(err)
	}

	for name, expected := range map[string]string{
		"test":          testString1,
		"test2":         testString2,
		"dir/long.text": testString3,
	} {
		data, err := ar.ReadAll(name)
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if string(data) != expected {
			t.Errorf("%s does not match up", name)
		}
	}

	e, err := ar.Stat("dir/long.text")
	if err != nil {
		t.Fatal(err)
	}
	if e.CompressedSize >= e.Size {
		t.Errorf("repetitive data must compress, %d >= %d", e.CompressedSize, e.Size)
	}

	files := ar.Files()
	if len(files) != 3 || files[0] != "dir/long.text" || files[2] != "test2" {
		t.Errorf("unexpected files %v", files)
	}
	if ar.Header().Author != "devblok" {
		t.Errorf("unexpected author %s", ar.Header().Author)
	}
}

func TestNotFound(t *testing.T) {
	ar, err := kar.Open(bytes.NewReader(build(t)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ar.ReadAll("missing"); errors.Cause(err) != kar.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := ar.Open("missing"); errors.Cause(err) != kar.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFileFormat(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":     nil,
		"magic":     []byte("TAR\x00000000000000000000"),
		"truncated": []byte("KAR\x00\xff"),
		"header":    append([]byte("KAR\x00\x10\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"), bytes.Repeat([]byte{0xff}, 16)...),
	} {
		if _, err := kar.Open(bytes.NewReader(data)); errors.Cause(err) != kar.ErrFileFormat {
			t.Errorf("%s: expected ErrFileFormat, got %v", name, err)
		}
	}
}

func TestOpenmmap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opentest.kar")
	if err := ioutil.WriteFile(path, build(t), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := mmap.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ar, err := kar.Open(r)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := ar.ReadAll("dir/long.text")
			if err != nil {
				t.Error(err)
				return
			}
			if string(data) != testString3 {
				t.Error("concurrent read does not match up")
			}
		}()
	}
	wg.Wait()
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opentest.kar")
	if err := ioutil.WriteFile(path, build(t), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	ar, err := kar.Open(f)
	if err != nil {
		t.Fatal(err)
	}
	if data, err := ar.ReadAll("test2"); err != nil || string(data) != testString2 {
		t.Errorf("unexpected read %q, %v", data, err)
	}
}

func BenchmarkReadAll(b *testing.B) {
	ar, err := kar.Open(bytes.NewReader(build(b)))
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ar.ReadAll("dir/long.text"); err != nil {
			b.Fatal(err)
		}
	}
}
