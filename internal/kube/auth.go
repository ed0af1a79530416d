package kube

import (
	"context"

	authorizationv1 "k8s.io/api/authorization/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

type AccessReviewRequest struct {
	Verb      string
	Resource  string
	Group     string
	Namespace string
	Name      string
}

type AccessReviewResult struct {
	Allowed bool
	Denied  bool
	Reason  string
}

func SelfSubjectAccessReview(ctx context.Context, cs kubernetes.Interface, req AccessReviewRequest) (AccessReviewResult, error) {
	review := &authorizationv1.SelfSubjectAccessReview{
		Spec: authorizationv1.SelfSubjectAccessReviewSpec{
			ResourceAttributes: &authorizationv1.ResourceAttributes{
				Verb:      req.Verb,
				Resource:  req.Resource,
				Group:     req.Group,
				Namespace: req.Namespace,
				Name:      req.Name,
			},
		},
	}

	res, err := cs.AuthorizationV1().SelfSubjectAccessReviews().Create(ctx, review, metav1.CreateOptions{})
	if err != nil {
		return AccessReviewResult{}, Classify(err)
	}

	return AccessReviewResult{
		Allowed: res.Status.Allowed,
		Denied:  res.Status.Denied,
		Reason:  res.Status.Reason,
	}, nil
}
