package mongo

import "github.com/monque/monque/internal/interfaces"

var _ interfaces.JobStore = (*Store)(nil)
