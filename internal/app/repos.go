package app

import (
	"gorm.io/gorm"

	"github.com/iriberri/provgraph/internal/platform/logger"
	"github.com/iriberri/provgraph/internal/repos"
)

type Repos struct {
	Nodes     repos.NodeRepo
	Links     repos.LinkRepo
	Locks     repos.LockRepo
	Computers repos.ComputerRepo
	Users     repos.UserRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Nodes:     repos.NewNodeRepo(db, log),
		Links:     repos.NewLinkRepo(db, log),
		Locks:     repos.NewLockRepo(db, log),
		Computers: repos.NewComputerRepo(db, log),
		Users:     repos.NewUserRepo(db, log),
	}
}
