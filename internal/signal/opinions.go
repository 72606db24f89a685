package signal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// OpinionProvider 是情绪 / ML 协作方的查询契约：
// 对 (asset, ts) 返回零或一条观点，没有观点是合法结果而非错误。
// 返回的观点 AsOf 不晚于查询时刻，调用方据此保证不读未来数据。
type OpinionProvider interface {
	Opinion(asset string, ts time.Time) (ScoredOpinion, bool)
}

// FileOpinions 从协作方物化的 JSON 文件读取观点序列。
// 目录结构：<dir>/<source>/<SYMBOL>.json，文件为
// {"opinions":[{"as_of": 毫秒时间戳, "score": x, "confidence": y}, ...]}。
// 回测开始前全量载入，运行中不再做任何 IO。
type FileOpinions struct {
	source Source
	series map[string][]ScoredOpinion
}

// LoadFileOpinions 载入某一来源的全部观点文件。目录不存在时返回
// 空 provider：协作方没有产出属于正常情况。
func LoadFileOpinions(dir string, source Source) (*FileOpinions, error) {
	p := &FileOpinions{source: source, series: make(map[string][]ScoredOpinion)}
	srcDir := filepath.Join(dir, string(source))
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("read opinions dir failed: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		symbol := strings.ToUpper(strings.TrimSuffix(e.Name(), ".json"))
		raw, err := os.ReadFile(filepath.Join(srcDir, e.Name()))
		if err != nil {
			return nil, err
		}
		var list []ScoredOpinion
		gjson.GetBytes(raw, "opinions").ForEach(func(_, item gjson.Result) bool {
			list = append(list, ScoredOpinion{
				Source:     source,
				Score:      clamp(item.Get("score").Float(), -1, 1),
				Confidence: clamp(item.Get("confidence").Float(), 0, 1),
				AsOf:       time.UnixMilli(item.Get("as_of").Int()),
			})
			return true
		})
		sort.Slice(list, func(i, j int) bool { return list[i].AsOf.Before(list[j].AsOf) })
		p.series[symbol] = list
	}
	return p, nil
}

// Opinion 返回 AsOf ≤ ts 的最新观点。
func (p *FileOpinions) Opinion(asset string, ts time.Time) (ScoredOpinion, bool) {
	list := p.series[strings.ToUpper(asset)]
	if len(list) == 0 {
		return ScoredOpinion{}, false
	}
	// 第一个晚于 ts 的下标，其前一条即所求
	idx := sort.Search(len(list), func(i int) bool { return list[i].AsOf.After(ts) })
	if idx == 0 {
		return ScoredOpinion{}, false
	}
	return list[idx-1], true
}

// StaticOpinions 用内存观点表实现 OpinionProvider，测试用。
type StaticOpinions struct {
	Entries map[string][]ScoredOpinion
}

func (s *StaticOpinions) Opinion(asset string, ts time.Time) (ScoredOpinion, bool) {
	var best ScoredOpinion
	found := false
	for _, op := range s.Entries[strings.ToUpper(asset)] {
		if op.AsOf.After(ts) {
			continue
		}
		if !found || op.AsOf.After(best.AsOf) {
			best = op
			found = true
		}
	}
	return best, found
}
