package result

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"

	"github.com/vibecodingbench/vcbench/internal/task"
)

// Entry is one run as listed in a sweep summary.
type Entry struct {
	Task        string  `json:"task"`
	Category    string  `json:"category"`
	Difficulty  string  `json:"difficulty,omitempty"`
	Weight      float64 `json:"weight"`
	Agent       string  `json:"agent"`
	Model       string  `json:"model,omitempty"`
	Status      Status  `json:"status"`
	Final       float64 `json:"final"`
	Scores      *Scores `json:"scores,omitempty"`
	Cost        float64 `json:"cost"`
	TotalTokens int     `json:"total_tokens"`
	Duration    float64 `json:"duration_seconds"`
	RunID       string  `json:"run_id"`
	Error       string  `json:"error,omitempty"`
}

// EntryFromRun flattens a completed run.
func EntryFromRun(r *Run) Entry {
	e := Entry{
		Task:       r.TaskID,
		Category:   r.Category,
		Difficulty: r.Difficulty,
		Weight:     r.Weight,
		Agent:      r.Agent,
		Model:      r.Model,
		Status:     r.Status,
		Final:      r.FinalScore(),
		Scores:     r.Scores,
		Duration:   r.TotalTime.Seconds(),
		RunID:      r.ID,
		Error:      r.Error,
	}
	if r.Execution != nil {
		e.Cost = r.Execution.Metrics.Cost
		e.TotalTokens = r.Execution.Metrics.TotalTokens
	}
	return e
}

// Aggregate summarizes a group of entries.
type Aggregate struct {
	Runs          int     `json:"runs"`
	Passed        int     `json:"passed"`
	Failed        int     `json:"failed"`
	PassRate      float64 `json:"pass_rate"`
	MeanScore     float64 `json:"mean_score"`
	WeightedScore float64 `json:"weighted_score"`
	TotalCost     float64 `json:"total_cost"`
	TotalTokens   int     `json:"total_tokens"`
	Duration      float64 `json:"duration_seconds"`
}

// Standing is one leaderboard row.
type Standing struct {
	Rank          int     `json:"rank"`
	Agent         string  `json:"agent"`
	Model         string  `json:"model,omitempty"`
	WeightedScore float64 `json:"weighted_score"`
	PassRate      float64 `json:"pass_rate"`
	TotalCost     float64 `json:"total_cost"`
}

// Summary is the sweep-level record written as summary.json.
type Summary struct {
	Agents      []string             `json:"agents"`
	Timestamp   string               `json:"timestamp"`
	Parallel    int                  `json:"parallel,omitempty"`
	Results     []Entry              `json:"results"`
	Passed      int                  `json:"passed"`
	Failed      int                  `json:"failed"`
	Total       int                  `json:"total"`
	PassRate    float64              `json:"pass_rate"`
	Duration    float64              `json:"duration_seconds"`
	ByAgent     map[string]Aggregate `json:"by_agent"`
	ByCategory  map[string]Aggregate `json:"by_category,omitempty"`
	Leaderboard []Standing           `json:"leaderboard"`
}

// Summarize builds a sweep summary. Entries keep the order given.
func Summarize(entries []Entry, timestamp string, parallel int) *Summary {
	s := &Summary{
		Timestamp:  timestamp,
		Parallel:   parallel,
		Results:    entries,
		ByAgent:    make(map[string]Aggregate),
		ByCategory: make(map[string]Aggregate),
	}

	models := make(map[string]string)
	byAgent := make(map[string][]Entry)
	byCategory := make(map[string][]Entry)
	for _, e := range entries {
		if _, ok := byAgent[e.Agent]; !ok {
			s.Agents = append(s.Agents, e.Agent)
		}
		byAgent[e.Agent] = append(byAgent[e.Agent], e)
		byCategory[e.Category] = append(byCategory[e.Category], e)
		if e.Model != "" {
			models[e.Agent] = e.Model
		}
	}

	all := aggregate(entries)
	s.Passed, s.Failed, s.Total = all.Passed, all.Failed, all.Runs
	s.PassRate, s.Duration = all.PassRate, all.Duration

	for name, group := range byAgent {
		s.ByAgent[name] = aggregate(group)
	}
	for name, group := range byCategory {
		s.ByCategory[name] = aggregate(group)
	}

	for _, name := range s.Agents {
		agg := s.ByAgent[name]
		s.Leaderboard = append(s.Leaderboard, Standing{
			Agent:         name,
			Model:         models[name],
			WeightedScore: agg.WeightedScore,
			PassRate:      agg.PassRate,
			TotalCost:     agg.TotalCost,
		})
	}
	sort.SliceStable(s.Leaderboard, func(i, j int) bool {
		a, b := s.Leaderboard[i], s.Leaderboard[j]
		if a.WeightedScore != b.WeightedScore {
			return a.WeightedScore > b.WeightedScore
		}
		return a.TotalCost < b.TotalCost
	})
	for i := range s.Leaderboard {
		s.Leaderboard[i].Rank = i + 1
	}

	return s
}

func aggregate(entries []Entry) Aggregate {
	var agg Aggregate
	var scoreSum, weightSum, weightedSum float64
	for _, e := range entries {
		agg.Runs++
		if e.Status == StatusPass {
			agg.Passed++
		} else {
			agg.Failed++
		}
		agg.TotalCost += e.Cost
		agg.TotalTokens += e.TotalTokens
		agg.Duration += e.Duration

		w := e.Weight
		if w <= 0 {
			w = task.DefaultWeight
		}
		scoreSum += e.Final
		weightedSum += e.Final * w
		weightSum += w
	}
	if agg.Runs > 0 {
		agg.PassRate = round1(float64(agg.Passed) / float64(agg.Runs) * 100)
		agg.MeanScore = round1(scoreSum / float64(agg.Runs))
	}
	if weightSum > 0 {
		agg.WeightedScore = round1(weightedSum / weightSum)
	}
	return agg
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Save writes summary.json into dir.
func (s *Summary) Save(dir string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "summary.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing summary.json: %w", err)
	}
	return nil
}

// LoadSummary reads summary.json from dir.
func LoadSummary(dir string) (*Summary, error) {
	data, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	if err != nil {
		return nil, fmt.Errorf("reading summary.json: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing summary.json: %w", err)
	}
	return &s, nil
}

// WriteLeaderboard renders the leaderboard and a task-by-agent score matrix
// as markdown.
func (s *Summary) WriteLeaderboard(w io.Writer) {
	fmt.Fprintf(w, "### Leaderboard\n\n")
	fmt.Fprintf(w, "| Rank | Agent | Model | Weighted Score | Pass Rate | Cost |\n")
	fmt.Fprintf(w, "|------|-------|-------|----------------|-----------|------|\n")
	for _, st := range s.Leaderboard {
		best := ""
		if st.Rank == 1 {
			best = " 🏆"
		}
		fmt.Fprintf(w, "| %d | %s%s | %s | %.1f | %.1f%% | $%.4f |\n",
			st.Rank, st.Agent, best, st.Model, st.WeightedScore, st.PassRate, st.TotalCost)
	}
	fmt.Fprintln(w)

	matrix := make(map[string]map[string]Entry)
	for _, e := range s.Results {
		if matrix[e.Task] == nil {
			matrix[e.Task] = make(map[string]Entry)
		}
		matrix[e.Task][e.Agent] = e
	}
	if len(matrix) == 0 || len(s.Agents) == 0 {
		return
	}

	fmt.Fprintf(w, "### Task Matrix\n\n| Task |")
	for _, a := range s.Agents {
		fmt.Fprintf(w, " %s |", a)
	}
	fmt.Fprintf(w, "\n|------|")
	for range s.Agents {
		fmt.Fprintf(w, "------|")
	}
	fmt.Fprintln(w)

	tasks := make([]string, 0, len(matrix))
	for t := range matrix {
		tasks = append(tasks, t)
	}
	sort.Strings(tasks)
	for _, t := range tasks {
		fmt.Fprintf(w, "| %s |", t)
		for _, a := range s.Agents {
			e, ok := matrix[t][a]
			if !ok {
				fmt.Fprintf(w, " — |")
				continue
			}
			fmt.Fprintf(w, " %s %.1f |", StatusEmoji[e.Status], e.Final)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
}

// Attestation binds a summary to the exact task versions and harness build
// that produced it.
type Attestation struct {
	Harness   HarnessInfo                `json:"harness"`
	Eval      EvalInfo                   `json:"eval"`
	Tasks     map[string]TaskAttestation `json:"tasks"`
	Integrity Integrity                  `json:"integrity"`
}

// HarnessInfo identifies the build.
type HarnessInfo struct {
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	BuildDate     string `json:"build_date"`
	WeightVersion string `json:"weight_version"`
}

// EvalInfo identifies the sweep.
type EvalInfo struct {
	Agents    []string `json:"agents"`
	Timestamp string   `json:"timestamp"`
}

// TaskAttestation pins one task.
type TaskAttestation struct {
	TaskHash string  `json:"task_hash"`
	Weight   float64 `json:"weight"`
}

// Integrity holds hashes over the summary contents.
type Integrity struct {
	ResultsHash string `json:"results_hash"`
}

// HashBytes returns the BLAKE3 hash of data as a prefixed hex string.
func HashBytes(data []byte) string {
	h := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(h[:])
}

// ResultsHash hashes the results list of a summary.
func ResultsHash(s *Summary) (string, error) {
	data, err := json.Marshal(s.Results)
	if err != nil {
		return "", fmt.Errorf("marshaling results: %w", err)
	}
	return HashBytes(data), nil
}

// TaskHash hashes a task's descriptor and every file in its directory, in
// lexical path order.
func TaskHash(t *task.Task) (string, error) {
	h := blake3.New()
	files, err := task.Files(t)
	if err != nil {
		return "", err
	}
	for _, name := range files {
		data, err := t.ReadFile(name)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", name, err)
		}
		_, _ = io.WriteString(h, name)
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(data)
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil)), nil
}

// NewAttestation builds an attestation for s over the tasks that ran.
func NewAttestation(s *Summary, tasks []*task.Task, harness HarnessInfo) (*Attestation, error) {
	harness.WeightVersion = task.WeightVersion
	a := &Attestation{
		Harness: harness,
		Eval:    EvalInfo{Agents: s.Agents, Timestamp: s.Timestamp},
		Tasks:   make(map[string]TaskAttestation, len(tasks)),
	}
	for _, t := range tasks {
		th, err := TaskHash(t)
		if err != nil {
			return nil, fmt.Errorf("hashing task %s: %w", t.ID, err)
		}
		a.Tasks[t.ID] = TaskAttestation{TaskHash: th, Weight: t.ScoreWeight()}
	}
	rh, err := ResultsHash(s)
	if err != nil {
		return nil, err
	}
	a.Integrity.ResultsHash = rh
	return a, nil
}

// Save writes attestation.json into dir.
func (a *Attestation) Save(dir string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling attestation: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "attestation.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing attestation.json: %w", err)
	}
	return nil
}

// LoadAttestation reads attestation.json from dir.
func LoadAttestation(dir string) (*Attestation, error) {
	data, err := os.ReadFile(filepath.Join(dir, "attestation.json"))
	if err != nil {
		return nil, fmt.Errorf("reading attestation.json: %w", err)
	}
	var a Attestation
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parsing attestation.json: %w", err)
	}
	return &a, nil
}

// Timestamp formats t the way sweep directories and summaries name it.
func Timestamp(t time.Time) string {
	return t.Format("2006-01-02T150405")
}
