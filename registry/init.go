package registry

import "gitlab.com/stratomesh/provisioning-service/internal/logger"

var zlog *logger.Logger

func init() {
	zlog = logger.New("registry")
}
