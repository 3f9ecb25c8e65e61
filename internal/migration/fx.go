package migration

import (
	membershipdomain "github.com/smallbiznis/homecare/internal/membership/domain"
	paymentdomain "github.com/smallbiznis/homecare/internal/payment/domain"
	"github.com/smallbiznis/homecare/internal/seed"
	tierdomain "github.com/smallbiznis/homecare/internal/tier/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		if conn.Dialector.Name() == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// mysql and sqlite deployments derive the schema from the models.
			if err := conn.AutoMigrate(
				&tierdomain.Tier{},
				&membershipdomain.Membership{},
				&paymentdomain.EventRecord{},
			); err != nil {
				return err
			}
		}

		return seed.EnsureDefaultTiers(conn)
	}),
)
