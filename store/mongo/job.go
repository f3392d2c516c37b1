package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

// SaveJob persists a newly submitted record.
func (s *Store) SaveJob(ctx context.Context, rec *job.Record) error {
	m := toJobModel(rec)
	_, err := s.db.Collection(colJobs).InsertOne(ctx, m)
	if err != nil {
		if isDuplicateKey(err) {
			return triage.ErrJobAlreadyExists
		}
		return fmt.Errorf("triage/mongo: save job: %w", err)
	}
	return nil
}

// GetJob retrieves a record by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Record, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, triage.ErrJobNotFound
		}
		return nil, fmt.Errorf("triage/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// UpdateJob persists changes to an existing record.
func (s *Store) UpdateJob(ctx context.Context, rec *job.Record) error {
	m := toJobModel(rec)
	m.UpdatedAt = now()

	res, err := s.db.Collection(colJobs).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("triage/mongo: update job: %w", err)
	}
	if res.MatchedCount == 0 {
		return triage.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a record by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.Collection(colJobs).DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("triage/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return triage.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns records in the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Record, error) {
	filter := bson.M{"state": string(state)}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	return s.findJobs(ctx, filter, findOpts)
}

// ListActiveJobs returns all non-terminal records, oldest first.
func (s *Store) ListActiveJobs(ctx context.Context) ([]*job.Record, error) {
	filter := bson.M{"state": bson.M{"$in": []string{
		string(job.StatePending),
		string(job.StateRunning),
		string(job.StateRetrying),
	}}}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	return s.findJobs(ctx, filter, findOpts)
}

// CountJobs returns the number of records matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	filter := bson.M{}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}

	count, err := s.db.Collection(colJobs).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("triage/mongo: count jobs: %w", err)
	}
	return count, nil
}

// findJobs runs a Find against the jobs collection and converts the results.
func (s *Store) findJobs(ctx context.Context, filter bson.M, findOpts options.Lister[options.FindOptions]) ([]*job.Record, error) {
	cursor, err := s.db.Collection(colJobs).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("triage/mongo: find jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("triage/mongo: find jobs decode: %w", err)
	}

	records := make([]*job.Record, 0, len(models))
	for i := range models {
		rec, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("triage/mongo: find jobs convert: %w", convErr)
		}
		records = append(records, rec)
	}
	return records, nil
}
