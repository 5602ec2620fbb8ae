package asyncfio_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joeycumines/go-asyncfio"
)

func ExampleExecutor() {
	e, err := asyncfio.New(asyncfio.WithEntries(32), asyncfio.WithLogger(nil))
	if err != nil {
		fmt.Println("io_uring unavailable")
		return
	}
	defer e.Close()

	dir, err := os.MkdirTemp("", "asyncfio-example")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f, err := e.CreateBufferedFile(ctx, filepath.Join(dir, "greeting"))
	if err != nil {
		panic(err)
	}
	if _, err := f.Write([]byte("hello"), 0).Wait(ctx); err != nil {
		panic(err)
	}
	buf := make([]byte, 5)
	n, err := f.Read(buf, 0).Wait(ctx)
	if err != nil {
		panic(err)
	}
	if _, err := f.Close().Wait(ctx); err != nil {
		panic(err)
	}
	fmt.Println(string(buf[:n]))
}
