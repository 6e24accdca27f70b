package task

// WeightVersion identifies the weighting methodology recorded in attestations.
const WeightVersion = "1.0"

// ScoreWeight returns the weight a task contributes to sweep aggregates.
func (t *Task) ScoreWeight() float64 {
	if t == nil || t.Weight <= 0 {
		return DefaultWeight
	}
	return t.Weight
}

// WeightedMean averages scores by the matching task weights. The slices must
// be the same length; a zero total weight yields 0.
func WeightedMean(tasks []*Task, scores []float64) float64 {
	var sum, total float64
	for i, t := range tasks {
		if i >= len(scores) {
			break
		}
		w := t.ScoreWeight()
		sum += scores[i] * w
		total += w
	}
	if total == 0 {
		return 0
	}
	return sum / total
}
