package copier

import (
	"context"

	"go.uber.org/zap"

	"github.com/Sirflyzoner/owlbot/internal/logfields"
	"github.com/Sirflyzoner/owlbot/internal/scan"
)

// DryCopier is a copier that does not do any changes on github or the local
// checkouts. All operations are simulated and always succeed.
type DryCopier struct {
	logger *zap.Logger
}

var _ scan.Copier = (*DryCopier)(nil)

func NewDryCopier(logger *zap.Logger) *DryCopier {
	return &DryCopier{
		logger: logger.Named("dry_copier"),
	}
}

func (c *DryCopier) CopyAndCreateOrUpdatePR(_ context.Context, task *scan.CopyTask) error {
	c.logger.Info(
		"simulated copying code and creating pull request, nothing was changed",
		logfields.Event("copy_simulated"),
		logfields.Repository(task.DestRepo.String()),
		logfields.Commit(task.CommitHash),
		logfields.ConfigPaths(task.YamlPaths),
	)

	return nil
}
