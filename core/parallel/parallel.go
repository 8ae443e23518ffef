// Package parallel は独立したタスクを並列に実行するための小さなヘルパーを提供する。
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/YuminosukeSato/tabflow/pkg/errors"
)

// Workers は n_jobs 設定を実際のワーカー数に変換する。
// 0 以下はCPUコア数を意味し、結果はタスク数を超えない
func Workers(nJobs, items int) int {
	w := nJobs
	if w <= 0 {
		w = runtime.NumCPU()
	}
	if w > items {
		w = items
	}
	if w < 1 {
		w = 1
	}
	return w
}

// ForEach は i = 0..items-1 について fn(ctx, i) を最大 workers 並列で実行する。
// 最初のエラーで残りのタスクはキャンセルされ、そのエラーが返される。
// 各タスク内のpanicは PanicError に変換される
func ForEach(ctx context.Context, items, workers int, fn func(ctx context.Context, i int) error) error {
	if items == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Workers(workers, items))

	for i := 0; i < items; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() (err error) {
			defer errors.Recover(&err, "parallel.ForEach")
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Parallelize は items 個の要素を範囲 [start, end) に分割し、fn を並列に実行する
func Parallelize(items int, fn func(start, end int)) {
	if items == 0 {
		return
	}
	numWorkers := Workers(0, items)
	chunkSize := (items + numWorkers - 1) / numWorkers

	var g errgroup.Group
	for start := 0; start < items; start += chunkSize {
		end := start + chunkSize
		if end > items {
			end = items
		}
		g.Go(func() error {
			fn(start, end)
			return nil
		})
	}
	_ = g.Wait()
}

// ParallelizeWithThreshold は要素数が閾値を超える場合のみ並列化する
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, fn)
}
