package rollup

import (
	"database/sql"
	"sort"
	"time"

	"gorm.io/gorm"

	gormdb "github.com/thebtf/codeaudit/internal/db/gorm"
	"github.com/thebtf/codeaudit/pkg/models"
	"github.com/thebtf/codeaudit/pkg/similarity"
)

// Window sizes for the time-bucketed rollups.
const (
	complianceWindowDays  = 90
	performanceWindowDays = 7 * 26
)

// insertBatchSize bounds a single rollup insert statement.
const insertBatchSize = 200

// dayKey formats t as a UTC calendar day. Bucketing happens in Go rather
// than SQL so postgres and sqlite produce identical rollups.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// weekKey formats t as the Monday of its UTC week.
func weekKey(t time.Time) string {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset).Format("2006-01-02")
}

// computeDailyCompliance buckets completed analyses per project per day over
// the trailing window and aggregates their compliance scores.
func (r *Refresher) computeDailyCompliance(tx *gorm.DB, generation int64) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -complianceWindowDays)

	var analyses []gormdb.Analysis
	if err := tx.Where("status = ? AND completed_at IS NOT NULL AND completed_at >= ?",
		string(models.AnalysisCompleted), cutoff).
		Order("id ASC").
		Find(&analyses).Error; err != nil {
		return err
	}

	type bucketKey struct {
		projectID string
		day       string
	}
	type bucketAgg struct {
		sum        int64
		min        int64
		max        int64
		count      int64
		violations int64
	}
	buckets := make(map[bucketKey]*bucketAgg)

	for _, a := range analyses {
		if !a.ComplianceScore.Valid {
			continue
		}
		key := bucketKey{projectID: a.ProjectID, day: dayKey(a.CompletedAt.Time)}
		agg, ok := buckets[key]
		if !ok {
			agg = &bucketAgg{min: a.ComplianceScore.Int64, max: a.ComplianceScore.Int64}
			buckets[key] = agg
		}
		score := a.ComplianceScore.Int64
		agg.sum += score
		if score < agg.min {
			agg.min = score
		}
		if score > agg.max {
			agg.max = score
		}
		agg.count++
		agg.violations += int64(a.TotalViolations)
	}

	keys := make([]bucketKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	// Deterministic insert order: two refreshes over the same raw data
	// produce identical row sequences.
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].projectID != keys[j].projectID {
			return keys[i].projectID < keys[j].projectID
		}
		return keys[i].day < keys[j].day
	})

	rows := make([]gormdb.DailyComplianceRollup, 0, len(keys))
	for _, k := range keys {
		agg := buckets[k]
		rows = append(rows, gormdb.DailyComplianceRollup{
			Generation:      generation,
			ProjectID:       k.projectID,
			Day:             k.day,
			AvgCompliance:   float64(agg.sum) / float64(agg.count),
			MinCompliance:   agg.min,
			MaxCompliance:   agg.max,
			AnalysesCount:   agg.count,
			ViolationsFound: agg.violations,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, insertBatchSize).Error
}

// computeWeeklyPerformance buckets completed analyses per project per week
// and aggregates performance scores and run durations.
func (r *Refresher) computeWeeklyPerformance(tx *gorm.DB, generation int64) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -performanceWindowDays)

	var analyses []gormdb.Analysis
	if err := tx.Where("status = ? AND completed_at IS NOT NULL AND completed_at >= ?",
		string(models.AnalysisCompleted), cutoff).
		Order("id ASC").
		Find(&analyses).Error; err != nil {
		return err
	}

	type bucketKey struct {
		projectID string
		weekStart string
	}
	type bucketAgg struct {
		perfSum     int64
		perfCount   int64
		durationSum int64
		durCount    int64
		count       int64
	}
	buckets := make(map[bucketKey]*bucketAgg)

	for _, a := range analyses {
		key := bucketKey{projectID: a.ProjectID, weekStart: weekKey(a.CompletedAt.Time)}
		agg, ok := buckets[key]
		if !ok {
			agg = &bucketAgg{}
			buckets[key] = agg
		}
		agg.count++
		if a.PerformanceScore.Valid {
			agg.perfSum += a.PerformanceScore.Int64
			agg.perfCount++
		}
		if a.DurationMillis.Valid {
			agg.durationSum += a.DurationMillis.Int64
			agg.durCount++
		}
	}

	keys := make([]bucketKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].projectID != keys[j].projectID {
			return keys[i].projectID < keys[j].projectID
		}
		return keys[i].weekStart < keys[j].weekStart
	})

	rows := make([]gormdb.WeeklyPerformanceRollup, 0, len(keys))
	for _, k := range keys {
		agg := buckets[k]
		row := gormdb.WeeklyPerformanceRollup{
			Generation:    generation,
			ProjectID:     k.projectID,
			WeekStart:     k.weekStart,
			AnalysesCount: agg.count,
		}
		if agg.perfCount > 0 {
			row.AvgPerformance = float64(agg.perfSum) / float64(agg.perfCount)
		}
		if agg.durCount > 0 {
			row.AvgDurationMS = float64(agg.durationSum) / float64(agg.durCount)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, insertBatchSize).Error
}

// computeProjectQuality materializes one row per project: the scores of its
// most recent completed analysis plus live violation counts.
func (r *Refresher) computeProjectQuality(tx *gorm.DB, generation int64) error {
	var projects []gormdb.Project
	if err := tx.Order("id ASC").Find(&projects).Error; err != nil {
		return err
	}

	rows := make([]gormdb.ProjectQualityRollup, 0, len(projects))
	for _, p := range projects {
		row := gormdb.ProjectQualityRollup{
			Generation: generation,
			ProjectID:  p.ID,
		}

		var latest gormdb.Analysis
		err := tx.Where("project_id = ? AND status = ?", p.ID, string(models.AnalysisCompleted)).
			Order("completed_at DESC, id DESC").
			First(&latest).Error
		switch err {
		case nil:
			row.ComplianceScore = latest.ComplianceScore
			row.QualityScore = latest.QualityScore
			row.SecurityScore = latest.SecurityScore
			row.PerformanceScore = latest.PerformanceScore
			if latest.CompletedAt.Valid {
				row.LastAnalysisAt = sql.NullTime{Time: latest.CompletedAt.Time, Valid: true}
			}
		case gorm.ErrRecordNotFound:
			// Project without a completed run still gets a row; scores stay null.
		default:
			return err
		}

		if err := tx.Model(&gormdb.Violation{}).Where("project_id = ?", p.ID).
			Count(&row.TotalViolations).Error; err != nil {
			return err
		}
		if err := tx.Model(&gormdb.Violation{}).
			Where("project_id = ? AND status IN ?", p.ID, []string{
				string(models.ViolationOpen), string(models.ViolationInProgress),
			}).
			Count(&row.OpenViolations).Error; err != nil {
			return err
		}
		if err := tx.Model(&gormdb.Violation{}).
			Where("project_id = ? AND severity = ?", p.ID, string(models.SeverityCritical)).
			Count(&row.CriticalViolations).Error; err != nil {
			return err
		}

		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, insertBatchSize).Error
}

// computeProjectSimilarity builds per-project embedding centroids for each
// model and stores pairwise cosine similarity. Each pair appears once with
// project_a ordered before project_b.
func (r *Refresher) computeProjectSimilarity(tx *gorm.DB, generation int64) error {
	var embeddings []gormdb.Embedding
	if err := tx.Where("index_state = ?", string(models.IndexIndexed)).
		Order("id ASC").
		Find(&embeddings).Error; err != nil {
		return err
	}

	type centroidKey struct {
		projectID string
		model     string
	}
	grouped := make(map[centroidKey][][]float32)
	for _, e := range embeddings {
		key := centroidKey{projectID: e.ProjectID, model: e.Model}
		grouped[key] = append(grouped[key], e.Vector.Slice())
	}

	centroids := make(map[centroidKey][]float32, len(grouped))
	for key, vectors := range grouped {
		if c := similarity.Centroid(vectors); c != nil {
			centroids[key] = c
		}
	}

	byModel := make(map[string][]string)
	for key := range centroids {
		byModel[key.model] = append(byModel[key.model], key.projectID)
	}

	modelNames := make([]string, 0, len(byModel))
	for model := range byModel {
		modelNames = append(modelNames, model)
	}
	sort.Strings(modelNames)

	var rows []gormdb.ProjectSimilarityRollup
	for _, model := range modelNames {
		projectIDs := byModel[model]
		sort.Strings(projectIDs)
		for i := 0; i < len(projectIDs); i++ {
			for j := i + 1; j < len(projectIDs); j++ {
				a, b := projectIDs[i], projectIDs[j]
				rows = append(rows, gormdb.ProjectSimilarityRollup{
					Generation: generation,
					ProjectA:   a,
					ProjectB:   b,
					Model:      model,
					Similarity: similarity.CosineSimilarity(
						centroids[centroidKey{projectID: a, model: model}],
						centroids[centroidKey{projectID: b, model: model}],
					),
				})
			}
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, insertBatchSize).Error
}
