package domain

// Per-source contributions to the quality score. They sum to 1 so a cell
// every source covered scores 1.0 and a cell only elevation covered
// scores 0.25.
const (
	QualityWeightElevation = 0.25
	QualityWeightEmbedding = 0.50
	QualityWeightVector    = 0.25
)

// QualityLayer scores each cell by which sources held valid data there.
// Masks are rows*cols, row 0 at the southern edge; a nil mask means the
// source contributed nothing anywhere. Sources with partial coverage
// score cell by cell, so a tile-edge elevation void lowers only the
// cells inside it.
func QualityLayer(rows, cols int, elevation, embedding, vector []bool) Layer {
	q := NewLayer("quality", 1, rows, cols)
	for i := range q.Data {
		var score float64
		if covered(elevation, i) {
			score += QualityWeightElevation
		}
		if covered(embedding, i) {
			score += QualityWeightEmbedding
		}
		if covered(vector, i) {
			score += QualityWeightVector
		}
		q.Data[i] = score
	}
	return q
}

func covered(mask []bool, i int) bool {
	return i < len(mask) && mask[i]
}
