package optimizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"kestrel/internal/logger"
)

// Objective 是均值-方差优化目标。
type Objective string

const (
	ObjectiveMinVolatility Objective = "min_volatility"
	ObjectiveMaxSharpe     Objective = "max_sharpe"
)

// Caps 是优化权重的约束集（与风控共用同一组上限）。
type Caps struct {
	MaxPositionPct float64
	MaxCryptoPct   float64
}

// Input 是一次优化调用的完整输入。
type Input struct {
	Assets          []string  // 固定顺序，与 mu / cov 的行列对应
	ExpectedReturns []float64 // 年化期望收益
	Covariance      *mat.SymDense
	IsCrypto        func(asset string) bool
	Caps            Caps
	Objective       Objective
	RiskFreeRate    float64
}

// Result 是优化输出。Degraded 表示协方差奇异或约束不可行，
// 已退化为等权分配——调用方（定期再平衡）总能得到可用结果。
type Result struct {
	Weights        map[string]float64 `json:"weights"`
	ExpectedReturn float64            `json:"expected_return"`
	Volatility     float64            `json:"volatility"`
	Sharpe         float64            `json:"sharpe"`
	Degraded       bool               `json:"degraded"`
	Objective      Objective          `json:"objective"`
}

const (
	maxConditionNumber = 1e12
	weightTolerance    = 1e-9
)

// Optimize 求解带约束的均值-方差组合：权重和为 1、非负（仅做多）、
// 单资产与加密总仓位不超上限。不可解时不报错，回退等权并打
// Degraded 标记。
func Optimize(in Input) (Result, error) {
	n := len(in.Assets)
	if n == 0 {
		return Result{}, fmt.Errorf("optimize 需要至少一个资产")
	}
	if len(in.ExpectedReturns) != n {
		return Result{}, fmt.Errorf("expected returns 维度 %d 与资产数 %d 不符", len(in.ExpectedReturns), n)
	}
	if in.Covariance == nil || in.Covariance.SymmetricDim() != n {
		return Result{}, fmt.Errorf("covariance 维度与资产数不符")
	}
	if in.Objective == "" {
		in.Objective = ObjectiveMinVolatility
	}
	isCrypto := in.IsCrypto
	if isCrypto == nil {
		isCrypto = func(string) bool { return false }
	}

	raw, ok := solveUnconstrained(in)
	if !ok {
		logger.Warnf("[optimizer] 协方差奇异或病态，退化为等权分配")
		return equalWeightFallback(in, isCrypto), nil
	}
	weights, feasible := projectConstraints(raw, in.Assets, isCrypto, in.Caps)
	if !feasible {
		logger.Warnf("[optimizer] 约束不可行（资产过少或上限过紧），退化为等权分配")
		return equalWeightFallback(in, isCrypto), nil
	}
	return buildResult(in, weights, false), nil
}

// solveUnconstrained 求闭式解：min_volatility 取 Σ⁻¹·1，
// max_sharpe 取 Σ⁻¹·(μ−rf)，再归一。奇异/病态时 ok=false。
func solveUnconstrained(in Input) ([]float64, bool) {
	n := len(in.Assets)
	var chol mat.Cholesky
	if ok := chol.Factorize(in.Covariance); !ok {
		return nil, false
	}
	if chol.Cond() > maxConditionNumber {
		return nil, false
	}
	rhs := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		switch in.Objective {
		case ObjectiveMaxSharpe:
			rhs.SetVec(i, in.ExpectedReturns[i]-in.RiskFreeRate)
		default:
			rhs.SetVec(i, 1)
		}
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, rhs); err != nil {
		return nil, false
	}
	out := make([]float64, n)
	sum := 0.0
	for i := 0; i < n; i++ {
		v := w.AtVec(i)
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		out[i] = v
		sum += v
	}
	if sum <= 0 {
		return nil, false
	}
	for i := range out {
		out[i] /= sum
	}
	return out, true
}

// projectConstraints 把原始权重投影到约束集内：逐资产夹到
// [0, maxPositionPct]，多余质量按比例摊给未触顶资产；之后压缩
// 加密总仓位并把差额摊给非加密资产。
func projectConstraints(raw []float64, assets []string, isCrypto func(string) bool, caps Caps) ([]float64, bool) {
	n := len(raw)
	if float64(n)*caps.MaxPositionPct < 1-weightTolerance {
		return nil, false // 资产数不足以让权重和达到 1
	}
	w := make([]float64, n)
	copy(w, raw)

	for iter := 0; iter < n+1; iter++ {
		excess := 0.0
		free := 0.0
		for i := range w {
			if w[i] > caps.MaxPositionPct {
				excess += w[i] - caps.MaxPositionPct
				w[i] = caps.MaxPositionPct
			} else if w[i] < caps.MaxPositionPct-weightTolerance {
				free += w[i]
			}
		}
		if excess <= weightTolerance {
			break
		}
		if free <= weightTolerance {
			// 未触顶资产权重全为零：剩余质量均摊给仍有余量的资产，
			// 下一轮继续夹取，避免把触顶资产推过上限
			below := 0
			for i := range w {
				if w[i] < caps.MaxPositionPct-weightTolerance {
					below++
				}
			}
			if below == 0 {
				break
			}
			for i := range w {
				if w[i] < caps.MaxPositionPct-weightTolerance {
					w[i] += excess / float64(below)
				}
			}
			continue
		}
		for i := range w {
			if w[i] < caps.MaxPositionPct-weightTolerance {
				w[i] += excess * w[i] / free
			}
		}
	}

	cryptoSum := 0.0
	cryptoCount := 0
	for i, a := range assets {
		if isCrypto(a) {
			cryptoSum += w[i]
			cryptoCount++
		}
	}
	if cryptoSum > caps.MaxCryptoPct+weightTolerance {
		if cryptoCount == n {
			return nil, false // 全是加密资产，总上限无法满足权重和为 1
		}
		scale := caps.MaxCryptoPct / cryptoSum
		residual := cryptoSum - caps.MaxCryptoPct
		nonCryptoSum := 0.0
		for i, a := range assets {
			if isCrypto(a) {
				w[i] *= scale
			} else {
				nonCryptoSum += w[i]
			}
		}
		for i, a := range assets {
			if isCrypto(a) {
				continue
			}
			if nonCryptoSum > weightTolerance {
				w[i] += residual * w[i] / nonCryptoSum
			} else {
				w[i] += residual / float64(n-cryptoCount)
			}
			if w[i] > caps.MaxPositionPct {
				// 非加密侧容量不足以吸收差额
				return nil, false
			}
		}
	}
	return w, true
}

func equalWeightFallback(in Input, isCrypto func(string) bool) Result {
	n := len(in.Assets)
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	res := buildResult(in, w, true)
	return res
}

func buildResult(in Input, w []float64, degraded bool) Result {
	n := len(in.Assets)
	weights := make(map[string]float64, n)
	expRet := 0.0
	for i, a := range in.Assets {
		weights[a] = w[i]
		expRet += w[i] * in.ExpectedReturns[i]
	}
	variance := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			variance += w[i] * w[j] * in.Covariance.At(i, j)
		}
	}
	vol := math.Sqrt(math.Max(variance, 0))
	sharpe := 0.0
	if vol > 0 {
		sharpe = (expRet - in.RiskFreeRate) / vol
	}
	return Result{
		Weights:        weights,
		ExpectedReturn: expRet,
		Volatility:     vol,
		Sharpe:         sharpe,
		Degraded:       degraded,
		Objective:      in.Objective,
	}
}
