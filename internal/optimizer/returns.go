package optimizer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"kestrel/internal/market"
)

// annualizationFactor 按日线交易日计年化。
const annualizationFactor = 252

// ReturnSeries 是一组资产按同一时间轴对齐的简单收益率。
type ReturnSeries struct {
	Assets  []string
	Returns *mat.Dense // 行=样本 列=资产
}

// ReturnsFromCandles 由对齐的收盘价序列构造收益率矩阵。
// 各资产的 K 线必须已按同一时间轴对齐且长度一致。
func ReturnsFromCandles(assets []string, candles map[string][]market.Candle) (*ReturnSeries, error) {
	if len(assets) == 0 {
		return nil, fmt.Errorf("returns 需要至少一个资产")
	}
	n := -1
	for _, a := range assets {
		cs, ok := candles[a]
		if !ok {
			return nil, fmt.Errorf("资产 %s 缺少K线数据", a)
		}
		if n == -1 {
			n = len(cs)
		} else if len(cs) != n {
			return nil, fmt.Errorf("资产 %s K线长度 %d 与其他资产 %d 不一致", a, len(cs), n)
		}
	}
	if n < 2 {
		return nil, fmt.Errorf("收益率计算至少需要 2 根K线")
	}
	rets := mat.NewDense(n-1, len(assets), nil)
	for j, a := range assets {
		cs := candles[a]
		for i := 1; i < n; i++ {
			prev := cs[i-1].Close
			if prev == 0 {
				return nil, fmt.Errorf("资产 %s 存在零收盘价", a)
			}
			rets.Set(i-1, j, cs[i].Close/prev-1)
		}
	}
	out := make([]string, len(assets))
	copy(out, assets)
	return &ReturnSeries{Assets: out, Returns: rets}, nil
}

// AnnualizedMeans 返回各资产的年化平均收益。
func (s *ReturnSeries) AnnualizedMeans() []float64 {
	_, cols := s.Returns.Dims()
	out := make([]float64, cols)
	for j := 0; j < cols; j++ {
		col := mat.Col(nil, j, s.Returns)
		out[j] = stat.Mean(col, nil) * annualizationFactor
	}
	return out
}

// AnnualizedCovariance 返回年化样本协方差矩阵。
func (s *ReturnSeries) AnnualizedCovariance() *mat.SymDense {
	_, cols := s.Returns.Dims()
	cov := mat.NewSymDense(cols, nil)
	stat.CovarianceMatrix(cov, s.Returns, nil)
	for i := 0; i < cols; i++ {
		for j := i; j < cols; j++ {
			cov.SetSym(i, j, cov.At(i, j)*annualizationFactor)
		}
	}
	return cov
}
