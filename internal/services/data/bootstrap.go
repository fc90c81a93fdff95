// -----------------------------------------------------------------------
// Bootstrap - create the System row and default admin on first start
// -----------------------------------------------------------------------

package data

import (
	"context"

	"github.com/ternarybob/jezel/internal/common"
	"github.com/ternarybob/jezel/internal/models"
)

// Bootstrap ensures the root System exists and, when no system user
// exists yet, creates the default admin from the configured credentials.
func (s *Service) Bootstrap(ctx context.Context, config *common.Config) (*models.System, error) {
	system, err := s.GetSystem(ctx)
	if err != nil {
		return nil, err
	}
	if system == nil {
		system = models.NewSystem("jezel")
		if err := s.SaveSystem(ctx, system); err != nil {
			return nil, err
		}
		s.logger.Info().Str("system_id", system.ID.String()).Msg("System created")
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.IsSystem {
			return system, nil
		}
	}

	hash, salt, err := s.encodePassword(config.Admin.DefaultPassword)
	if err != nil {
		return nil, err
	}
	admin := models.NewUser(system.ID, config.Admin.DefaultUsername, hash, salt)
	admin.IsAdmin = true
	admin.IsSystem = true
	if err := s.SaveUser(ctx, admin); err != nil {
		return nil, err
	}
	s.logger.Info().Str("username", admin.Username).Msg("Default admin user created")

	return system, nil
}
