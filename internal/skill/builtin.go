package skill

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Calculation evaluates simple arithmetic expressions found in the query.
type Calculation struct{}

func (Calculation) Name() string        { return "calculation" }
func (Calculation) Description() string { return "evaluates basic arithmetic in the request text" }

var arithmeticRe = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*([+\-*/×÷])\s*(-?\d+(?:\.\d+)?)`)

func (Calculation) Invoke(_ context.Context, params map[string]string) (string, error) {
	query := params["query"]
	m := arithmeticRe.FindStringSubmatch(query)
	if m == nil {
		return "", fmt.Errorf("no arithmetic expression in %q", query)
	}
	a, _ := strconv.ParseFloat(m[1], 64)
	b, _ := strconv.ParseFloat(m[3], 64)
	var v float64
	switch m[2] {
	case "+":
		v = a + b
	case "-":
		v = a - b
	case "*", "×":
		v = a * b
	case "/", "÷":
		if b == 0 {
			return "", fmt.Errorf("division by zero")
		}
		v = a / b
	}
	return fmt.Sprintf("%s %s %s = %s", m[1], m[2], m[3], strconv.FormatFloat(v, 'f', -1, 64)), nil
}

// Weather returns canned conditions for a city mentioned in the query. It
// stands in for a real weather API in the shipped demo skills.
type Weather struct{}

func (Weather) Name() string        { return "weather" }
func (Weather) Description() string { return "looks up current weather for a city" }

var knownCities = []string{"北京", "上海", "广州", "深圳", "杭州", "成都"}

func (Weather) Invoke(_ context.Context, params map[string]string) (string, error) {
	query := params["query"]
	city := "北京"
	for _, c := range knownCities {
		if strings.Contains(query, c) {
			city = c
			break
		}
	}
	return fmt.Sprintf("%s：晴，22°C，湿度 45%%", city), nil
}

// Search returns a short canned snippet list for the query, standing in for a
// real search backend.
type Search struct{}

func (Search) Name() string        { return "search" }
func (Search) Description() string { return "searches for background material on the request" }

func (Search) Invoke(_ context.Context, params map[string]string) (string, error) {
	query := strings.TrimSpace(params["query"])
	if query == "" {
		return "", fmt.Errorf("empty search query")
	}
	return fmt.Sprintf("关于「%s」的检索结果：相关资料 3 条（摘要略）", query), nil
}

// Builtin returns the registry of shipped demo skills.
func Builtin() *Registry {
	return NewRegistry(Calculation{}, Weather{}, Search{})
}
