// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

type JobType int

const (
	JobTypeUnknown JobType = iota
	JobMove
	JobRestoreGroup
	JobRecoverDC
	JobCoupleDefrag
)

func (t JobType) String() string {
	switch t {
	case JobMove:
		return "move_job"
	case JobRestoreGroup:
		return "restore_group_job"
	case JobRecoverDC:
		return "recover_dc_job"
	case JobCoupleDefrag:
		return "couple_defrag_job"
	}
	return "UNKNOWN"
}

type JobStatus int

const (
	JobStatusUnknown JobStatus = iota
	JobNew
	JobNotApproved
	JobPending
	JobExecuting
	JobBroken
	JobCompleted
	JobCancelled
)

func (s JobStatus) String() string {
	switch s {
	case JobNew:
		return "new"
	case JobNotApproved:
		return "not_approved"
	case JobPending:
		return "pending"
	case JobExecuting:
		return "executing"
	case JobBroken:
		return "broken"
	case JobCompleted:
		return "completed"
	case JobCancelled:
		return "cancelled"
	}
	return "UNKNOWN"
}

// Job is an active repair/move job observed in the metadata database.
type Job struct {
	ID         string
	Group      int
	Type       JobType
	Status     JobStatus
	UpdateTime uint64 // wall ns of the fetch that delivered this job
}

type jobDoc struct {
	ID     string `bson:"id"`
	Status string `bson:"status"`
	Group  int    `bson:"group"`
	Type   string `bson:"type"`
}

func jobTypeFromString(s string) JobType {
	switch s {
	case "move_job":
		return JobMove
	case "restore_group_job":
		return JobRestoreGroup
	case "recover_dc_job":
		return JobRecoverDC
	case "couple_defrag_job":
		return JobCoupleDefrag
	}
	return JobTypeUnknown
}

func jobStatusFromString(s string) JobStatus {
	switch s {
	case "new":
		return JobNew
	case "not_approved":
		return JobNotApproved
	case "pending":
		return JobPending
	case "executing":
		return JobExecuting
	case "broken":
		return JobBroken
	case "completed":
		return JobCompleted
	case "cancelled":
		return JobCancelled
	}
	return JobStatusUnknown
}

// NewJobFromBSON decodes one jobs-collection document.
func NewJobFromBSON(raw bson.Raw, fetchTime uint64) (*Job, error) {
	var doc jobDoc
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "decode job document")
	}
	if doc.ID == "" {
		return nil, errors.New("job document without id")
	}
	if doc.Group == 0 {
		return nil, errors.Errorf("job %q without group", doc.ID)
	}
	return &Job{
		ID:         doc.ID,
		Group:      doc.Group,
		Type:       jobTypeFromString(doc.Type),
		Status:     jobStatusFromString(doc.Status),
		UpdateTime: fetchTime,
	}, nil
}

func (j *Job) writeJSON(s *jsoniter.Stream) {
	s.WriteObjectStart()
	s.WriteObjectField("id")
	s.WriteString(j.ID)
	s.WriteMore()
	s.WriteObjectField("group")
	s.WriteInt(j.Group)
	s.WriteMore()
	s.WriteObjectField("type")
	s.WriteString(j.Type.String())
	s.WriteMore()
	s.WriteObjectField("status")
	s.WriteString(j.Status.String())
	s.WriteObjectEnd()
}
