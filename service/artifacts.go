package service

import (
	"context"
	"net/url"
	"path"
	"strings"

	"DubbingPlatform-server/models"
)

// UploadPrefix is the storage prefix of ownerID's uploads.
func UploadPrefix(ownerID string) string {
	return "uploads/" + url.PathEscape(ownerID)
}

// AuthorizeArtifact checks that ref belongs to ownerID within the project:
// one of the owner's uploads, an input or output of a project job, or an
// artifact already recorded in the project's ledger. Anything else is
// reported as not found.
func (s *JobService) AuthorizeArtifact(ctx context.Context, ownerID, projectID, ref string) error {
	if _, err := s.GetProject(ctx, ownerID, projectID); err != nil {
		return err
	}
	clean := path.Clean(strings.TrimPrefix(ref, "/"))
	if strings.HasPrefix(clean, UploadPrefix(ownerID)+"/") {
		return nil
	}

	jobs, err := models.ListJobs(s.db.WithContext(ctx), models.JobFilter{OwnerID: ownerID, ProjectID: projectID})
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.Parameters.VideoRef == clean {
			return nil
		}
		for _, out := range j.Outputs {
			if out.VideoRef == clean || out.AudioRef == clean || out.OriginalRef == clean {
				return nil
			}
		}
	}

	marks, err := s.ledger.ListWatermarks(ctx, projectID)
	if err != nil {
		return err
	}
	for _, w := range marks {
		if w.ContentRef == clean || w.SourceRef == clean {
			return nil
		}
	}
	chains, err := s.ledger.ListProvenance(ctx, projectID)
	if err != nil {
		return err
	}
	for _, p := range chains {
		if p.ContentRef == clean {
			return nil
		}
	}
	return models.NotFound("artifact", ref)
}
