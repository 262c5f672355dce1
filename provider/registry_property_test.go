package provider

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// 属性：任意一组随机 rank 的提供方，ListFor 返回的序列按 rank 升序，
// 且相同 rank 的提供方保持注册顺序。
func TestProperty_Registry_ListForStableRankOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := NewRegistry(nil, zap.NewNop())

		n := rapid.IntRange(1, 12).Draw(rt, "n")
		ranks := make([]int, n)
		for i := 0; i < n; i++ {
			ranks[i] = rapid.IntRange(0, 4).Draw(rt, fmt.Sprintf("rank%d", i))
			d := &Descriptor{
				Name:       fmt.Sprintf("p%02d", i),
				Capability: "llm.quick",
				Rank:       ranks[i],
				Invoke: func(ctx context.Context, payload any) (any, error) {
					return nil, nil
				},
			}
			require.NoError(t, r.Register(d))
		}

		list := r.ListFor("llm.quick")
		require.Len(t, list, n)

		for i := 1; i < len(list); i++ {
			prev, cur := list[i-1], list[i]
			if prev.Rank > cur.Rank {
				rt.Fatalf("rank 逆序: %s(%d) 在 %s(%d) 之前", prev.Name, prev.Rank, cur.Name, cur.Rank)
			}
			// 同 rank 时名称（注册序号）必须递增
			if prev.Rank == cur.Rank && prev.Name >= cur.Name {
				rt.Fatalf("同 rank 未保持注册顺序: %s 在 %s 之前", prev.Name, cur.Name)
			}
		}
	})
}

// 属性：无论注册顺序如何，重复名称永远注册失败且注册表大小不变。
func TestProperty_Registry_DuplicateNameAlwaysRejected(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := NewRegistry(nil, zap.NewNop())

		name := rapid.StringMatching(`[a-z]{3,12}`).Draw(rt, "name")
		cap1 := rapid.SampledFrom([]string{"llm.quick", "llm.deep-think", "data.equity-quote"}).Draw(rt, "cap1")
		cap2 := rapid.SampledFrom([]string{"llm.quick", "llm.deep-think", "data.equity-quote"}).Draw(rt, "cap2")

		d1 := &Descriptor{Name: name, Capability: cap1, Rank: 1,
			Invoke: func(ctx context.Context, payload any) (any, error) { return nil, nil }}
		d2 := &Descriptor{Name: name, Capability: cap2, Rank: 2,
			Invoke: func(ctx context.Context, payload any) (any, error) { return nil, nil }}

		require.NoError(t, r.Register(d1))
		require.Error(t, r.Register(d2))
		require.Equal(t, 1, r.Len())
	})
}
