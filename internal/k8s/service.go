package k8s

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"

	"platformd/backend/internal/apperrors"
	"platformd/backend/internal/database"
	"platformd/backend/internal/models"
	"platformd/backend/internal/security"
)

// Target is where a platform lives: the kubeconfig to reach the cluster and the project namespace.
type Target struct {
	Kubeconfig []byte
	Namespace  string
	Project    models.Project
}

type Service struct {
	DB    *gorm.DB
	Codec *security.Codec
	// InCluster returns the service account config for projects of type in-cluster.
	InCluster func() (*rest.Config, error)
}

func NewService(db *gorm.DB, codec *security.Codec) *Service {
	return &Service{DB: db, Codec: codec, InCluster: rest.InClusterConfig}
}

// Resolve picks the platform's own cluster when set, then the project kubeconfig, then the
// in-cluster service account for in-cluster projects.
func (s *Service) Resolve(ctx context.Context, platform *models.PlatformBase) (*Target, error) {
	db := database.Conn(ctx, s.DB)

	var project models.Project
	if err := db.First(&project, platform.ProjectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: project %d", apperrors.ErrResourceNotFound, platform.ProjectID)
		}
		return nil, err
	}
	target := &Target{Namespace: project.K8sNamespace, Project: project}

	if platform.K8sClusterID != nil {
		var cluster models.K8sCluster
		if err := db.First(&cluster, *platform.K8sClusterID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: k8s cluster %d", apperrors.ErrResourceNotFound, *platform.K8sClusterID)
			}
			return nil, err
		}
		raw, err := s.ClusterKubeconfig(&cluster)
		if err != nil {
			return nil, err
		}
		target.Kubeconfig = raw
		return target, nil
	}

	if project.K8sClusterKubeconfig != nil && strings.TrimSpace(*project.K8sClusterKubeconfig) != "" {
		target.Kubeconfig = []byte(*project.K8sClusterKubeconfig)
		return target, nil
	}

	if project.K8sClusterType == models.ClusterTypeInCluster && s.InCluster != nil {
		if cfg, err := s.InCluster(); err == nil {
			raw, err := kubeconfigFor(cfg.Host, "", cfg.BearerTokenFile, cfg.TLSClientConfig.CAData, cfg.TLSClientConfig.CAFile)
			if err != nil {
				return nil, err
			}
			target.Kubeconfig = raw
			return target, nil
		}
	}

	return nil, apperrors.WithDetail(apperrors.ErrNoKubeconfig, "platform %q has no kubeconfig", platform.Name)
}

// ClusterKubeconfig decrypts the stored credentials of a cluster record into kubeconfig bytes.
func (s *Service) ClusterKubeconfig(cluster *models.K8sCluster) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(cluster.AuthType)) {
	case "", models.AuthTypeKubeconfig:
		raw, err := s.Codec.DecryptOptional(cluster.KubeconfigEnc)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(raw) == "" {
			return nil, apperrors.WithDetail(apperrors.ErrNoKubeconfig, "cluster %q has no kubeconfig", cluster.Name)
		}
		return []byte(raw), nil
	case models.AuthTypeToken:
		token, err := s.Codec.DecryptOptional(cluster.TokenEnc)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(token) == "" {
			return nil, apperrors.WithDetail(apperrors.ErrNoKubeconfig, "cluster %q has no token", cluster.Name)
		}
		var caData []byte
		if cluster.CACert != nil && strings.TrimSpace(*cluster.CACert) != "" {
			ca := strings.TrimSpace(*cluster.CACert)
			if decoded, err := base64.StdEncoding.DecodeString(ca); err == nil {
				caData = decoded
			} else {
				caData = []byte(ca)
			}
		}
		return kubeconfigFor(strings.TrimSpace(cluster.Endpoint), strings.TrimSpace(token), "", caData, "")
	default:
		return nil, fmt.Errorf("%w: unsupported auth_type %s", apperrors.ErrConfigInvalid, cluster.AuthType)
	}
}

func kubeconfigFor(server, token, tokenFile string, caData []byte, caFile string) ([]byte, error) {
	const name = "platformd"
	cfg := clientcmdapi.NewConfig()
	cfg.Clusters[name] = &clientcmdapi.Cluster{
		Server:                   server,
		CertificateAuthorityData: caData,
		CertificateAuthority:     caFile,
	}
	cfg.AuthInfos[name] = &clientcmdapi.AuthInfo{Token: token, TokenFile: tokenFile}
	cfg.Contexts[name] = &clientcmdapi.Context{Cluster: name, AuthInfo: name}
	cfg.CurrentContext = name
	return clientcmd.Write(*cfg)
}
